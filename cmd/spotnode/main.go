package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/younsl/spotnode/pkg/utils"
)

// EnvPrefix is the prefix of environment variables that override flags
const EnvPrefix = "SPOTNODE"

// app carries state shared by all subcommands
type app struct {
	v      *viper.Viper
	logger zerolog.Logger
	stdout io.Writer
	stderr io.Writer
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// newLogger builds the CLI logger: human-readable console output on w unless format is json
func newLogger(level, format string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	switch strings.ToLower(format) {
	case "json":
		return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
	case "", "console":
		cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
		return zerolog.New(cw).Level(lvl).With().Timestamp().Logger(), nil
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q (want console or json)", format)
	}
}

// region returns the configured region, falling back to the environment's default
func (a *app) region() string {
	if r := a.v.GetString("region"); r != "" {
		return r
	}
	return utils.GetDefaultRegion()
}

// bindFlags binds every flag of the command's flag set to the app's viper
func (a *app) bindFlags(cmd *cobra.Command) {
	_ = a.v.BindPFlags(cmd.Flags())
}

// startSpinner creates and starts a spinner on stderr with a message
func (a *app) startSpinner(msg string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[9], 200*time.Millisecond, spinner.WithWriter(a.stderr))
	s.Suffix = " " + msg
	s.Start()
	return s
}

func newRootCmd() *cobra.Command {
	a := &app{
		v:      newViper(),
		logger: zerolog.Nop(),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	rootCmd := &cobra.Command{
		Use:   "spotnode",
		Short: "Deploy a single spot GPU node at the best price for your budget",
		Long: `spotnode probes which GPU instance types are available in a region,
prices them from the spot market, picks the best value within budget and
provisions a tagged node with its network, storage and optional load balancer.
Everything it creates can be removed again with "spotnode teardown".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.stdout = cmd.OutOrStdout()
			a.stderr = cmd.ErrOrStderr()
			logger, err := newLogger(a.v.GetString("log-level"), a.v.GetString("log-format"), a.stderr)
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("region", "", "AWS region (default from AWS_REGION or us-east-1)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "console", "Log format: console or json")
	_ = a.v.BindPFlags(pf)

	rootCmd.AddCommand(
		newDeployCmd(a),
		newTeardownCmd(a),
		newPricesCmd(a),
		newCatalogCmd(a),
		newVersionCmd(a),
	)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
