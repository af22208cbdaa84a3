package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/catalog"
	"github.com/younsl/spotnode/pkg/pricing"
	"github.com/younsl/spotnode/pkg/probe"
	"github.com/younsl/spotnode/pkg/selector"
)

// market is what deploy and prices need from the cloud to price a catalog
type market interface {
	probe.Cloud
	pricing.SpotHistory
}

// marketView is a probed and priced catalog
type marketView struct {
	Analysis    pricing.AnalysisResult
	Unavailable []error
}

// loadCatalog returns the builtin catalog or the one in path
func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	cat, err := catalog.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	return cat, nil
}

// survey probes every catalog profile in the region and prices the available ones
func (a *app) survey(ctx context.Context, cloud market, cat *catalog.Catalog, region string, budget float64, concurrency int, stats *pricing.Stats) (marketView, error) {
	probeCfg := probe.DefaultConfig()
	probeCfg.Concurrency = concurrency

	s := a.startSpinner(fmt.Sprintf("Probing %d instance types in %s ...", len(cat.Profiles()), region))
	available, unavailable, err := probe.New(cloud, region, probeCfg, a.logger).ProbeAll(ctx, cat.Profiles())
	s.Stop()
	if err != nil {
		return marketView{}, fmt.Errorf("probing availability: %w", err)
	}
	view := marketView{Unavailable: unavailable}
	if len(available) == 0 {
		return view, &selector.NoViableConfigurationError{Causes: unavailable}
	}

	cache := pricing.NewCache(pricing.DefaultCachePath(), a.logger)
	if err := cache.Load(); err != nil {
		a.logger.Warn().Err(err).Msg("ignoring unreadable price cache")
	}

	analyzerCfg := pricing.DefaultConfig()
	analyzerCfg.Concurrency = concurrency
	analyzer := pricing.NewAnalyzer(cloud, cache, stats, analyzerCfg, a.logger)

	s = a.startSpinner(fmt.Sprintf("Analyzing spot prices for %d instance types ...", len(available)))
	analysis, err := analyzer.Analyze(ctx, cat.Candidates(available), budget)
	s.Stop()

	if serr := cache.Save(); serr != nil {
		a.logger.Warn().Err(serr).Msg("failed to save price cache")
	}
	if err != nil {
		var perr *pricing.PricingUnavailableError
		if errors.As(err, &perr) {
			return view, &selector.NoViableConfigurationError{Causes: append(unavailable, perr)}
		}
		return view, fmt.Errorf("analyzing prices: %w", err)
	}
	view.Analysis = analysis
	return view, nil
}

// spotBid is the maximum price submitted with a spot request. A selection that
// exceeded the budget by necessity bids its own price so it can be fulfilled.
func spotBid(sel models.SelectionResult) float64 {
	return max(sel.BudgetUsed, sel.Candidate.PricePerHour)
}
