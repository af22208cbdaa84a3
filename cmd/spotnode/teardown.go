package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/younsl/spotnode/internal/config"
	"github.com/younsl/spotnode/pkg/aws"
	"github.com/younsl/spotnode/pkg/formatter"
	"github.com/younsl/spotnode/pkg/teardown"
)

func newTeardownCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teardown <stack>",
		Short: "Delete every resource tagged with a stack",
		Long: `Discover every resource spotnode created for a stack and delete it in
reverse dependency order. Without --force the plan is shown and must be confirmed.`,
		Example: `  spotnode teardown demo --dry-run
  spotnode teardown demo --force
  spotnode teardown demo --only cdn,alb --force`,
		Args: cobra.ExactArgs(1),
		PreRun: func(cmd *cobra.Command, args []string) {
			a.bindFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTeardown(cmd, args[0])
		},
	}

	f := cmd.Flags()
	f.Bool("dry-run", false, "Show what would be deleted without deleting")
	f.Bool("force", false, "Delete without asking for confirmation")
	f.StringSlice("only", nil, "Limit teardown to these resource kinds (e.g. instance,sg,efs)")
	f.Int("concurrency", 4, "Parallel deletions within one step")
	f.String("output", outputTable, "Output format: table or json")

	return cmd
}

// teardownMode resolves the mode flags; dry-run wins over force
func teardownMode(dryRun, force bool) config.TeardownMode {
	switch {
	case dryRun:
		return config.ModeDryRun
	case force:
		return config.ModeForced
	default:
		return config.ModeInteractive
	}
}

func (a *app) runTeardown(cmd *cobra.Command, stack string) error {
	ctx := cmd.Context()
	output := a.v.GetString("output")
	if output != outputTable && output != outputJSON {
		return fmt.Errorf("invalid output format %q (want %s or %s)", output, outputTable, outputJSON)
	}

	kinds, err := config.ParseKinds(a.v.GetStringSlice("only"))
	if err != nil {
		return err
	}
	opts := config.Teardown{
		Stack:    stack,
		Region:   a.region(),
		Mode:     teardownMode(a.v.GetBool("dry-run"), a.v.GetBool("force")),
		Only:     kinds,
		Timeouts: config.DefaultTimeouts(),
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	awsCfg, err := aws.LoadConfig(ctx, opts.Region)
	if err != nil {
		return err
	}
	provider := aws.NewProvider(awsCfg, a.logger)

	var confirmer teardown.Confirmer
	if opts.Mode == config.ModeInteractive {
		confirmer = teardown.ConfirmerFunc(func(ctx context.Context, plan teardown.Plan) (bool, error) {
			formatter.PrintTeardownPlan(a.stdout, plan)
			fmt.Fprintln(a.stdout)
			return promptConfirmer().Confirm(ctx, plan)
		})
	}
	orch := teardown.New(provider, confirmer, a.v.GetInt("concurrency"), a.logger)

	start := time.Now()
	req := teardown.Request{Stack: opts.Stack, Mode: opts.Mode, Scope: opts.Only}
	var summary teardown.Summary
	if opts.Mode == config.ModeInteractive {
		// the confirmation prompt owns the terminal
		summary, err = orch.Run(ctx, req)
	} else {
		s := a.startSpinner(fmt.Sprintf("Tearing down stack %s in %s ...", opts.Stack, opts.Region))
		summary, err = orch.Run(ctx, req)
		s.Stop()
	}
	if err != nil {
		if errors.Is(err, teardown.ErrNotConfirmed) {
			fmt.Fprintln(a.stdout, "Teardown cancelled, nothing deleted.")
			return nil
		}
		return err
	}

	if output == outputJSON {
		if err := formatter.WriteJSON(a.stdout, summary); err != nil {
			return err
		}
		return summary.Err()
	}

	formatter.PrintTeardownSummary(a.stdout, summary)
	formatter.PrintTimestamp(a.stdout, "Teardown", start, time.Since(start))
	return summary.Err()
}
