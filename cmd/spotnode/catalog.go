package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/younsl/spotnode/pkg/formatter"
)

func newCatalogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the GPU instance catalog in preference order",
		Args:  cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, args []string) {
			a.bindFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(a.v.GetString("catalog"))
			if err != nil {
				return err
			}
			switch output := a.v.GetString("output"); output {
			case outputJSON:
				return formatter.WriteJSON(a.stdout, cat.Profiles())
			case outputTable:
				formatter.PrintCatalogTable(a.stdout, cat.Profiles())
				return nil
			default:
				return fmt.Errorf("invalid output format %q (want %s or %s)", output, outputTable, outputJSON)
			}
		},
	}

	cmd.Flags().String("catalog", "", "YAML file replacing the builtin instance catalog")
	cmd.Flags().String("output", outputTable, "Output format: table or json")
	return cmd
}
