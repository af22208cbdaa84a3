// Package pricing prices catalog candidates from spot price history, with a
// disk-backed cache, historical fallbacks and on-demand comparisons.
package pricing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/catalog"
)

// Budget sources reported in AnalysisResult
const (
	BudgetSourceOperator = "operator"
	BudgetSourceDynamic  = "dynamic"
)

// SpotHistory is the provider surface for spot price history
type SpotHistory interface {
	// SpotPriceHistory returns Linux/UNIX spot samples for the given types in a region since a point in time
	SpotPriceHistory(ctx context.Context, region string, instanceTypes []string, since time.Time) ([]models.PricePoint, error)
}

// Config controls analyzer behavior
type Config struct {
	Concurrency  int           // parallel region lookups
	QueryTimeout time.Duration // bound on one live history query
	Window       time.Duration // how far back to read history
	BudgetFactor float64       // dynamic budget = cheapest price * factor
}

// DefaultConfig returns the default analyzer configuration
func DefaultConfig() Config {
	return Config{
		Concurrency:  4,
		QueryTimeout: 5 * time.Second,
		Window:       time.Hour,
		BudgetFactor: 1.2,
	}
}

// AnalysisResult is the outcome of one analysis pass
type AnalysisResult struct {
	Candidates      []models.Candidate // priced candidates in input order
	Unpriced        []string           // "type/region" pairs with no data at all
	DynamicBudget   float64
	EffectiveBudget float64
	BudgetSource    string
	Confident       bool // the cheapest price is fresh market data
}

// PricingUnavailableError is returned when no pair could be priced from any source
type PricingUnavailableError struct {
	Pairs []string
}

func (e *PricingUnavailableError) Error() string {
	if len(e.Pairs) == 0 {
		return "no candidates to price"
	}
	return fmt.Sprintf("no pricing data from cache, live history or historical defaults for %s", strings.Join(e.Pairs, ", "))
}

// Analyzer prices candidates
type Analyzer struct {
	history SpotHistory
	cache   *Cache
	stats   *Stats
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time
}

// NewAnalyzer creates a pricing analyzer. cache and stats may be nil.
func NewAnalyzer(history SpotHistory, cache *Cache, stats *Stats, cfg Config, logger zerolog.Logger) *Analyzer {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BudgetFactor <= 0 {
		cfg.BudgetFactor = 1.2
	}
	if cache == nil {
		cache = NewCache("", logger)
	}
	return &Analyzer{
		history: history,
		cache:   cache,
		stats:   stats,
		cfg:     cfg,
		logger:  logger.With().Str("component", "pricing").Logger(),
		now:     time.Now,
	}
}

type pairKey struct {
	instanceType string
	region       string
}

func (k pairKey) String() string { return k.instanceType + "/" + k.region }

// pairPrice is the single source snapshot used for every candidate of a pair in one pass
type pairPrice struct {
	samples    []models.PricePoint
	source     models.PriceSource
	historical float64
	hasHistory bool
}

// Analyze prices every candidate and derives the dynamic and effective budgets.
// budget <= 0 means no operator ceiling.
func (a *Analyzer) Analyze(ctx context.Context, candidates []models.Candidate, budget float64) (AnalysisResult, error) {
	if len(candidates) == 0 {
		return AnalysisResult{}, &PricingUnavailableError{}
	}

	var pairs []pairKey
	seen := make(map[pairKey]bool)
	for _, c := range candidates {
		k := pairKey{c.InstanceType(), c.Region}
		if !seen[k] {
			seen[k] = true
			pairs = append(pairs, k)
		}
	}

	resolved := make(map[pairKey]pairPrice, len(pairs))
	pending := make(map[string][]string)
	for _, k := range pairs {
		entry, fresh, found := a.cache.Lookup(k.instanceType, k.region)
		if found && fresh && len(entry.Samples) > 0 {
			a.stats.UpdateCacheHit(ServiceSpot, k.region)
			resolved[k] = pairPrice{samples: entry.Samples, source: models.PriceSourceCache}
			continue
		}
		pending[k.region] = append(pending[k.region], k.instanceType)
	}

	regions := make([]string, 0, len(pending))
	for r := range pending {
		regions = append(regions, r)
	}
	sort.Strings(regions)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for _, region := range regions {
		types := pending[region]
		g.Go(func() error {
			prices, err := a.fetchRegion(gctx, region, types)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for t, p := range prices {
				resolved[pairKey{t, region}] = p
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return AnalysisResult{}, err
	}

	result := AnalysisResult{}
	unpriced := make(map[pairKey]bool)
	for _, c := range candidates {
		k := pairKey{c.InstanceType(), c.Region}
		priced, ok := priceCandidate(c, resolved[k])
		if !ok {
			if !unpriced[k] {
				unpriced[k] = true
				result.Unpriced = append(result.Unpriced, k.String())
				a.logger.Warn().Str("pair", k.String()).Msg("no price available, dropping candidate")
			}
			continue
		}
		result.Candidates = append(result.Candidates, priced)
	}
	if len(result.Candidates) == 0 {
		return AnalysisResult{}, &PricingUnavailableError{Pairs: result.Unpriced}
	}

	cheapest := result.Candidates[0]
	for _, c := range result.Candidates[1:] {
		if c.PricePerHour < cheapest.PricePerHour {
			cheapest = c
		}
	}
	result.DynamicBudget = cheapest.PricePerHour * a.cfg.BudgetFactor
	result.Confident = !cheapest.Estimated
	result.EffectiveBudget, result.BudgetSource = EffectiveBudget(budget, result.DynamicBudget, result.Confident)

	a.logger.Debug().
		Int("priced", len(result.Candidates)).
		Float64("dynamicBudget", result.DynamicBudget).
		Float64("effectiveBudget", result.EffectiveBudget).
		Str("budgetSource", result.BudgetSource).
		Msg("pricing analysis complete")

	return result, nil
}

// EffectiveBudget picks the budget the selector filters by. Without an
// operator ceiling the dynamic figure is used. With one, the ceiling is
// authoritative unless the dynamic figure is tighter and based on fresh data.
func EffectiveBudget(operator, dynamic float64, confident bool) (float64, string) {
	if operator <= 0 {
		return dynamic, BudgetSourceDynamic
	}
	if dynamic < operator && confident {
		return dynamic, BudgetSourceDynamic
	}
	return operator, BudgetSourceOperator
}

// fetchRegion runs one live query for all pending types of a region and
// resolves every type, falling back per type when the query yields nothing.
func (a *Analyzer) fetchRegion(ctx context.Context, region string, instanceTypes []string) (map[string]pairPrice, error) {
	ttl := SingleTTL
	if len(instanceTypes) > 1 {
		ttl = BatchTTL
	}

	var (
		points []models.PricePoint
		err    error
	)
	if a.history != nil {
		qctx, cancel := context.WithTimeout(ctx, a.cfg.QueryTimeout)
		points, err = a.history.SpotPriceHistory(qctx, region, instanceTypes, a.now().Add(-a.cfg.Window))
		cancel()
	} else {
		err = fmt.Errorf("spot price history not configured")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		a.stats.UpdateAPIFailure(ServiceSpot, region)
		a.logger.Warn().Err(err).Str("region", region).Strs("instanceTypes", instanceTypes).Msg("spot price history query failed, using fallback prices")
	} else {
		a.stats.UpdateAPISuccess(ServiceSpot, region)
	}

	latest := latestPerZone(points)
	out := make(map[string]pairPrice, len(instanceTypes))
	for _, t := range instanceTypes {
		if samples := latest[t]; err == nil && len(samples) > 0 {
			a.cache.Put(t, region, samples, ttl)
			out[t] = pairPrice{samples: samples, source: models.PriceSourceAPI}
			continue
		}
		out[t] = a.fallback(t, region)
	}
	return out, nil
}

func (a *Analyzer) fallback(instanceType, region string) pairPrice {
	if entry, _, found := a.cache.Lookup(instanceType, region); found && len(entry.Samples) > 0 {
		samples := make([]models.PricePoint, len(entry.Samples))
		for i, s := range entry.Samples {
			s.Estimated = true
			samples[i] = s
		}
		a.logger.Debug().Str("instanceType", instanceType).Str("region", region).
			Time("fetchedAt", entry.FetchedAt).Msg("using stale cached prices")
		return pairPrice{samples: samples, source: models.PriceSourceStale}
	}
	price, ok := catalog.HistoricalSpotPrice(instanceType, region)
	return pairPrice{source: models.PriceSourceDefault, historical: price, hasHistory: ok}
}

// latestPerZone keeps the newest sample per (type, zone), sorted by zone
func latestPerZone(points []models.PricePoint) map[string][]models.PricePoint {
	newest := make(map[string]map[string]models.PricePoint)
	for _, p := range points {
		if p.PricePerHour <= 0 {
			continue
		}
		zones, ok := newest[p.InstanceType]
		if !ok {
			zones = make(map[string]models.PricePoint)
			newest[p.InstanceType] = zones
		}
		if cur, ok := zones[p.Zone]; !ok || p.ObservedAt.After(cur.ObservedAt) {
			zones[p.Zone] = p
		}
	}

	out := make(map[string][]models.PricePoint, len(newest))
	for t, zones := range newest {
		samples := make([]models.PricePoint, 0, len(zones))
		for _, p := range zones {
			samples = append(samples, p)
		}
		sort.Slice(samples, func(i, j int) bool { return samples[i].Zone < samples[j].Zone })
		out[t] = samples
	}
	return out
}

func priceCandidate(c models.Candidate, pp pairPrice) (models.Candidate, bool) {
	if pp.source == "" {
		return c, false
	}

	var zonePrices []models.ZonePrice
	if pp.source != models.PriceSourceDefault {
		offered := make(map[string]bool, len(c.Zones))
		for _, z := range c.Zones {
			offered[z] = true
		}
		for _, s := range pp.samples {
			if len(offered) == 0 || offered[s.Zone] {
				zonePrices = append(zonePrices, models.ZonePrice{Zone: s.Zone, PricePerHour: s.PricePerHour})
			}
		}
	}

	if len(zonePrices) == 0 {
		// No usable market samples: price every offered zone at the historical average
		if pp.source != models.PriceSourceDefault {
			price, ok := catalog.HistoricalSpotPrice(c.InstanceType(), c.Region)
			pp = pairPrice{source: models.PriceSourceDefault, historical: price, hasHistory: ok}
		}
		if !pp.hasHistory {
			return c, false
		}
		for _, z := range c.Zones {
			zonePrices = append(zonePrices, models.ZonePrice{Zone: z, PricePerHour: pp.historical})
		}
		c.PricePerHour = pp.historical
	} else {
		var sum float64
		for _, zp := range zonePrices {
			sum += zp.PricePerHour
		}
		c.PricePerHour = sum / float64(len(zonePrices))
	}

	SortZonePrices(zonePrices)
	c.ZonePrices = zonePrices
	c.Source = pp.source
	c.Estimated = pp.source.Estimated()
	return c, true
}

// SortZonePrices orders zones by ascending price, then zone name
func SortZonePrices(zones []models.ZonePrice) {
	sort.SliceStable(zones, func(i, j int) bool {
		if zones[i].PricePerHour != zones[j].PricePerHour {
			return zones[i].PricePerHour < zones[j].PricePerHour
		}
		return zones[i].Zone < zones[j].Zone
	})
}
