package pricing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/younsl/spotnode/internal/models"
)

type historyCall struct {
	region string
	types  []string
}

type fakeHistory struct {
	mu     sync.Mutex
	points map[string][]models.PricePoint // region -> samples
	err    error
	calls  []historyCall
}

func (f *fakeHistory) SpotPriceHistory(_ context.Context, region string, instanceTypes []string, _ time.Time) ([]models.PricePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, historyCall{region: region, types: append([]string(nil), instanceTypes...)})
	if f.err != nil {
		return nil, f.err
	}
	wanted := make(map[string]bool)
	for _, t := range instanceTypes {
		wanted[t] = true
	}
	var out []models.PricePoint
	for _, p := range f.points[region] {
		if wanted[p.InstanceType] {
			out = append(out, p)
		}
	}
	return out, nil
}

func sample(instanceType, zone string, price float64, age time.Duration, now time.Time) models.PricePoint {
	return models.PricePoint{
		InstanceType: instanceType,
		Zone:         zone,
		Region:       zone[:len(zone)-1],
		PricePerHour: price,
		ObservedAt:   now.Add(-age),
	}
}

func candidate(instanceType, region string, index int, zones ...string) models.Candidate {
	return models.Candidate{
		Profile:      models.InstanceProfile{InstanceType: instanceType, PerformanceScore: 70},
		Region:       region,
		Zones:        zones,
		CatalogIndex: index,
	}
}

func newTestAnalyzer(history SpotHistory) (*Analyzer, *Cache, *Stats, *fakeClock) {
	cache, clock := newTestCache("")
	stats := NewStats()
	a := NewAnalyzer(history, cache, stats, DefaultConfig(), zerolog.Nop())
	a.now = clock.Now
	return a, cache, stats, clock
}

func TestAnalyzeAveragesLatestSamplePerOfferedZone(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	history := &fakeHistory{points: map[string][]models.PricePoint{
		"us-east-1": {
			sample("g4dn.xlarge", "us-east-1a", 0.30, 50*time.Minute, now), // superseded
			sample("g4dn.xlarge", "us-east-1a", 0.18, 5*time.Minute, now),
			sample("g4dn.xlarge", "us-east-1b", 0.25, 10*time.Minute, now),
			sample("g4dn.xlarge", "us-east-1c", 0.19, 10*time.Minute, now),
			sample("g4dn.xlarge", "us-east-1f", 0.05, 10*time.Minute, now), // not offered
		},
	}}
	a, _, _, _ := newTestAnalyzer(history)

	res, err := a.Analyze(context.Background(), []models.Candidate{
		candidate("g4dn.xlarge", "us-east-1", 0, "us-east-1a", "us-east-1b", "us-east-1c"),
	}, 0)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)

	c := res.Candidates[0]
	assert.InDelta(t, (0.18+0.25+0.19)/3, c.PricePerHour, 1e-9)
	assert.Equal(t, models.PriceSourceAPI, c.Source)
	assert.False(t, c.Estimated)
	assert.Equal(t, []models.ZonePrice{
		{Zone: "us-east-1a", PricePerHour: 0.18},
		{Zone: "us-east-1c", PricePerHour: 0.19},
		{Zone: "us-east-1b", PricePerHour: 0.25},
	}, c.ZonePrices)
	assert.True(t, res.Confident)
	assert.InDelta(t, c.PricePerHour*1.2, res.DynamicBudget, 1e-9)
	assert.Equal(t, BudgetSourceDynamic, res.BudgetSource)
}

func TestAnalyzeBatchesTypesPerRegionAndSetsTTL(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	history := &fakeHistory{points: map[string][]models.PricePoint{
		"us-east-1": {
			sample("g4dn.xlarge", "us-east-1a", 0.20, time.Minute, now),
			sample("g5.xlarge", "us-east-1a", 0.45, time.Minute, now),
		},
		"us-west-2": {
			sample("g4dn.xlarge", "us-west-2a", 0.22, time.Minute, now),
		},
	}}
	a, cache, stats, _ := newTestAnalyzer(history)

	_, err := a.Analyze(context.Background(), []models.Candidate{
		candidate("g4dn.xlarge", "us-east-1", 0, "us-east-1a"),
		candidate("g5.xlarge", "us-east-1", 1, "us-east-1a"),
		candidate("g4dn.xlarge", "us-west-2", 0, "us-west-2a"),
	}, 0)
	require.NoError(t, err)
	assert.Len(t, history.calls, 2, "one query per region")

	batch, _, _ := cache.Lookup("g5.xlarge", "us-east-1")
	assert.Equal(t, BatchTTL, batch.TTL)
	single, _, _ := cache.Lookup("g4dn.xlarge", "us-west-2")
	assert.Equal(t, SingleTTL, single.TTL)

	// A second pass is served entirely from the cache
	_, err = a.Analyze(context.Background(), []models.Candidate{
		candidate("g4dn.xlarge", "us-east-1", 0, "us-east-1a"),
	}, 0)
	require.NoError(t, err)
	assert.Len(t, history.calls, 2)

	var cacheHits int
	for _, row := range stats.Rows() {
		cacheHits += row.Cache
	}
	assert.Equal(t, 1, cacheHits)
}

func TestAnalyzeFallsBackToStaleThenHistorical(t *testing.T) {
	history := &fakeHistory{err: errors.New("RequestLimitExceeded")}
	a, cache, stats, clock := newTestAnalyzer(history)

	cache.Put("g5.xlarge", "us-east-1", []models.PricePoint{
		{InstanceType: "g5.xlarge", Zone: "us-east-1a", PricePerHour: 0.42},
		{InstanceType: "g5.xlarge", Zone: "us-east-1b", PricePerHour: 0.44},
	}, BatchTTL)
	clock.Advance(BatchTTL + time.Minute)

	res, err := a.Analyze(context.Background(), []models.Candidate{
		candidate("g4dn.xlarge", "us-east-1", 0, "us-east-1a", "us-east-1b"),
		candidate("g5.xlarge", "us-east-1", 1, "us-east-1a", "us-east-1b"),
	}, 0.30)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 2)

	historical := res.Candidates[0]
	assert.Equal(t, models.PriceSourceDefault, historical.Source)
	assert.True(t, historical.Estimated)
	assert.InDelta(t, 0.35, historical.PricePerHour, 1e-9)
	assert.Len(t, historical.ZonePrices, 2)

	stale := res.Candidates[1]
	assert.Equal(t, models.PriceSourceStale, stale.Source)
	assert.True(t, stale.Estimated, "expired entries are never reported as fresh")
	assert.InDelta(t, 0.43, stale.PricePerHour, 1e-9)

	// Cheapest price is estimated, so the operator ceiling stays authoritative
	assert.False(t, res.Confident)
	assert.InDelta(t, 0.30, res.EffectiveBudget, 1e-9)
	assert.Equal(t, BudgetSourceOperator, res.BudgetSource)

	rows := stats.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Failure)
}

func TestAnalyzeReturnsPricingUnavailableWhenNothingPrices(t *testing.T) {
	a, _, _, _ := newTestAnalyzer(&fakeHistory{err: errors.New("timeout")})

	_, err := a.Analyze(context.Background(), []models.Candidate{
		candidate("x9.unknown", "us-east-1", 0, "us-east-1a"),
	}, 0)

	var unavailable *PricingUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, []string{"x9.unknown/us-east-1"}, unavailable.Pairs)
}

func TestAnalyzeDropsUnpricedCandidates(t *testing.T) {
	a, _, _, _ := newTestAnalyzer(&fakeHistory{})

	res, err := a.Analyze(context.Background(), []models.Candidate{
		candidate("x9.unknown", "us-east-1", 0, "us-east-1a"),
		candidate("g4ad.xlarge", "us-east-1", 1, "us-east-1a"),
	}, 0)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "g4ad.xlarge", res.Candidates[0].InstanceType())
	assert.Equal(t, []string{"x9.unknown/us-east-1"}, res.Unpriced)
}

func TestEffectiveBudget(t *testing.T) {
	tests := []struct {
		name       string
		operator   float64
		dynamic    float64
		confident  bool
		wantBudget float64
		wantSource string
	}{
		{"no ceiling uses dynamic", 0, 0.24, false, 0.24, BudgetSourceDynamic},
		{"tighter dynamic with fresh data wins", 0.50, 0.24, true, 0.24, BudgetSourceDynamic},
		{"tighter dynamic with estimated data loses", 0.50, 0.24, false, 0.50, BudgetSourceOperator},
		{"looser dynamic never overrides ceiling", 0.20, 0.24, true, 0.20, BudgetSourceOperator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			budget, source := EffectiveBudget(tt.operator, tt.dynamic, tt.confident)
			assert.InDelta(t, tt.wantBudget, budget, 1e-9)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}
