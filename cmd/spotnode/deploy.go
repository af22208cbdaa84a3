package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/younsl/spotnode/internal/config"
	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/aws"
	"github.com/younsl/spotnode/pkg/formatter"
	"github.com/younsl/spotnode/pkg/pricing"
	"github.com/younsl/spotnode/pkg/provision"
	"github.com/younsl/spotnode/pkg/selector"
	"github.com/younsl/spotnode/pkg/teardown"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

func newDeployCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Select and provision a spot GPU node",
		Long: `Probe the catalog in the region, price the available instance types on the
spot market, select the best value within budget and provision the node.

A failed or interrupted deploy removes everything it created.`,
		Example: `  spotnode deploy --stack demo --budget 1.50
  spotnode deploy --stack demo --instance-type g5.xlarge --load-balancer --cdn
  SPOTNODE_REGION=us-west-2 spotnode deploy --stack demo --mode interactive --output json`,
		Args: cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, args []string) {
			a.bindFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDeploy(cmd)
		},
	}

	defaults := config.DefaultTimeouts()
	f := cmd.Flags()
	f.String("stack", "", "Stack name used to name and tag every resource (required)")
	f.String("project", config.DefaultProject, "Project tag value")
	f.Float64("budget", 0, "Maximum USD per hour (0 derives a budget from the market)")
	f.String("instance-type", config.AutoInstanceType, "Instance type to deploy, or auto")
	f.String("mode", string(config.SelectAuto), "Selection mode: auto or interactive")
	f.String("catalog", "", "YAML file replacing the builtin instance catalog")
	f.String("key-dir", defaultKeyDir(), "Directory for the generated private key")
	f.StringSlice("secret", nil, "Secrets Manager secret that must be readable before deploying (repeatable)")
	f.Bool("load-balancer", false, "Put an application load balancer in front of the node")
	f.Bool("cdn", false, "Put a CDN distribution in front of the load balancer")
	f.Int("concurrency", 4, "Parallel probes and price lookups")
	f.String("output", outputTable, "Output format: table or json")
	f.Duration("call-timeout", defaults.Call, "Timeout for a single cloud API call")
	f.Int("poll-attempts", defaults.PollAttempts, "Spot fulfilment polls per zone")
	f.Duration("poll-delay", defaults.PollDelay, "Delay between spot fulfilment polls")
	f.Duration("cleanup-timeout", defaults.Cleanup, "Bound on cleanup after a failed deploy")

	return cmd
}

func defaultKeyDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".ssh")
}

// deployOptions reads the deploy options from flags and environment
func (a *app) deployOptions() config.Deploy {
	return config.Deploy{
		Stack:        a.v.GetString("stack"),
		Project:      a.v.GetString("project"),
		Region:       a.region(),
		Budget:       a.v.GetFloat64("budget"),
		InstanceType: a.v.GetString("instance-type"),
		Mode:         config.SelectionMode(a.v.GetString("mode")),
		CatalogFile:  a.v.GetString("catalog"),
		KeyDir:       a.v.GetString("key-dir"),
		Secrets:      a.v.GetStringSlice("secret"),
		LoadBalancer: a.v.GetBool("load-balancer"),
		CDN:          a.v.GetBool("cdn"),
		Concurrency:  a.v.GetInt("concurrency"),
		Timeouts: config.Timeouts{
			Call:         a.v.GetDuration("call-timeout"),
			PollAttempts: a.v.GetInt("poll-attempts"),
			PollDelay:    a.v.GetDuration("poll-delay"),
			Cleanup:      a.v.GetDuration("cleanup-timeout"),
		},
	}
}

func (a *app) runDeploy(cmd *cobra.Command) error {
	ctx := cmd.Context()
	opts := a.deployOptions()
	output := a.v.GetString("output")
	if output != outputTable && output != outputJSON {
		return fmt.Errorf("invalid output format %q (want %s or %s)", output, outputTable, outputJSON)
	}

	cat, err := loadCatalog(opts.CatalogFile)
	if err != nil {
		return err
	}
	if err := opts.Validate(cat.Types()); err != nil {
		return err
	}
	if !opts.AutoSelect() {
		if cat, err = cat.Filter(opts.InstanceType); err != nil {
			return err
		}
	}

	awsCfg, err := aws.LoadConfig(ctx, opts.Region)
	if err != nil {
		return err
	}
	provider := aws.NewProvider(awsCfg, a.logger)

	if len(opts.Secrets) > 0 {
		if err := aws.NewSecretStore(awsCfg, a.logger).Preflight(ctx, opts.Secrets); err != nil {
			return fmt.Errorf("secrets preflight: %w", err)
		}
	}

	start := time.Now()
	stats := pricing.NewStats()
	view, err := a.survey(ctx, provider, cat, opts.Region, opts.Budget, opts.Concurrency, stats)
	if err != nil {
		return err
	}
	analysis := view.Analysis

	if output == outputTable {
		formatter.PrintCandidatesTable(a.stdout, selector.Rank(analysis.Candidates), analysis.EffectiveBudget)
		formatter.PrintUnavailable(a.stdout, view.Unavailable)
		fmt.Fprintln(a.stdout)
	}

	var sel models.SelectionResult
	if opts.AutoSelect() {
		sel, err = selector.Select(ctx, analysis.Candidates, analysis.EffectiveBudget, selector.Options{
			Mode:    opts.Mode,
			Chooser: promptChooser(),
		})
	} else {
		sel, err = selector.Override(analysis.Candidates, opts.InstanceType, analysis.EffectiveBudget)
	}
	if err != nil {
		return err
	}
	if sel.Warning != nil {
		a.logger.Warn().Err(sel.Warning).Msg("deploying over budget")
	}

	if output == outputTable {
		formatter.PrintSelection(a.stdout, sel)
		fmt.Fprintln(a.stdout)
	}

	cleaner := teardown.New(provider, nil, opts.Concurrency, a.logger)
	orch := provision.New(provider, cleaner, provision.Config{
		PollAttempts:   opts.Timeouts.PollAttempts,
		PollDelay:      opts.Timeouts.PollDelay,
		CallTimeout:    opts.Timeouts.Call,
		CleanupTimeout: opts.Timeouts.Cleanup,
	}, a.logger)

	s := a.startSpinner(fmt.Sprintf("Provisioning %s in %s ...", sel.Candidate.InstanceType(), sel.Candidate.Region))
	orch.OnState = func(state provision.State) {
		s.Lock()
		s.Suffix = fmt.Sprintf(" Provisioning %s: %s ...", sel.Candidate.InstanceType(), state)
		s.Unlock()
	}
	res, err := orch.Run(ctx, provision.Request{
		Stack:        opts.Stack,
		Project:      opts.Project,
		Candidate:    sel.Candidate,
		MaxPrice:     spotBid(sel),
		KeyDir:       opts.KeyDir,
		ServicePorts: config.DefaultServicePorts,
		LoadBalancer: opts.LoadBalancer,
		CDN:          opts.CDN,
	})
	s.Stop()
	if err != nil {
		var perr *provision.ProvisioningError
		if errors.As(err, &perr) {
			formatter.PrintProvisioningError(a.stderr, perr)
		}
		if res.CleanupErr != nil {
			a.logger.Error().Err(res.CleanupErr).Msgf("cleanup incomplete, run: spotnode teardown %s", opts.Stack)
		}
		return err
	}

	if output == outputJSON {
		return formatter.WriteJSON(a.stdout, formatter.NewDeploySummary(opts.Stack, sel, res))
	}
	formatter.PrintAttemptsTable(a.stdout, res.Attempts)
	fmt.Fprintln(a.stdout)
	formatter.PrintProvisionResult(a.stdout, res)
	fmt.Fprintln(a.stdout)
	formatter.PrintPricingAPIStats(a.stdout, stats.Rows())
	formatter.PrintTimestamp(a.stdout, "Deploy", start, time.Since(start))
	return nil
}
