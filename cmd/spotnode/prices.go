package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/younsl/spotnode/internal/config"
	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/aws"
	"github.com/younsl/spotnode/pkg/formatter"
	"github.com/younsl/spotnode/pkg/pricing"
	"github.com/younsl/spotnode/pkg/selector"
)

func newPricesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Show spot and on-demand prices for the catalog",
		Long: `Probe the catalog in the region and show the current spot price of every
available instance type next to its on-demand price. With --cache the local
price cache is shown instead and no cloud API is called.`,
		Example: `  spotnode prices --region us-west-2
  spotnode prices --cache`,
		Args: cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, args []string) {
			a.bindFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.v.GetBool("cache") {
				return a.runPriceCache()
			}
			return a.runPrices(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.Bool("cache", false, "Show the local price cache instead of querying prices")
	f.String("catalog", "", "YAML file replacing the builtin instance catalog")
	f.Int("concurrency", 4, "Parallel probes and price lookups")

	return cmd
}

func (a *app) runPriceCache() error {
	cache := pricing.NewCache(pricing.DefaultCachePath(), a.logger)
	if err := cache.Load(); err != nil {
		return fmt.Errorf("reading price cache: %w", err)
	}
	fmt.Fprintf(a.stdout, "Price cache: %s\n", pricing.DefaultCachePath())
	formatter.PrintCacheTable(a.stdout, cache.Entries(), time.Now())
	return nil
}

func (a *app) runPrices(ctx context.Context) error {
	region := a.region()
	if err := config.ValidateRegion(region); err != nil {
		return err
	}
	concurrency := a.v.GetInt("concurrency")
	if concurrency < 1 {
		concurrency = 1
	}
	cat, err := loadCatalog(a.v.GetString("catalog"))
	if err != nil {
		return err
	}

	awsCfg, err := aws.LoadConfig(ctx, region)
	if err != nil {
		return err
	}
	provider := aws.NewProvider(awsCfg, a.logger)

	start := time.Now()
	stats := pricing.NewStats()
	view, err := a.survey(ctx, provider, cat, region, 0, concurrency, stats)
	if err != nil {
		return err
	}

	onDemand := pricing.NewOnDemandClient(aws.NewPricingClient(awsCfg), stats, a.logger)
	rows, err := priceRows(ctx, onDemand, selector.Rank(view.Analysis.Candidates), concurrency)
	if err != nil {
		return err
	}

	formatter.PrintPricesTable(a.stdout, rows)
	formatter.PrintUnavailable(a.stdout, view.Unavailable)
	fmt.Fprintf(a.stdout, "\nMarket budget: $%.4f/hr (cheapest x %.1f)\n",
		view.Analysis.DynamicBudget, pricing.DefaultConfig().BudgetFactor)
	formatter.PrintPricingAPIStats(a.stdout, stats.Rows())
	formatter.PrintTimestamp(a.stdout, "Price scan", start, time.Since(start))
	return nil
}

// onDemandPricer looks up on-demand hourly prices
type onDemandPricer interface {
	HourlyPrice(ctx context.Context, instanceType, region string) (float64, models.PriceSource, error)
}

// priceRows pairs each candidate with its on-demand price, keeping candidate order.
// A missing on-demand price leaves the row without one.
func priceRows(ctx context.Context, pricer onDemandPricer, candidates []models.Candidate, concurrency int) ([]formatter.PriceRow, error) {
	rows := make([]formatter.PriceRow, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, c := range candidates {
		rows[i].Candidate = c
		g.Go(func() error {
			price, source, err := pricer.HourlyPrice(gctx, c.InstanceType(), c.Region)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return nil
			}
			rows[i].OnDemand = price
			rows[i].OnDemandSource = source
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}
