package pricing

import (
	"sort"
	"sync"
)

// Stat kinds counted per service and region
const (
	StatSuccess = "success"
	StatFailure = "failure"
	StatCache   = "cache"
)

// Service names used as stats keys
const (
	ServiceSpot     = "EC2 Spot"
	ServiceOnDemand = "EC2 On-Demand"
)

// StatRow is one service/region line of the API statistics table
type StatRow struct {
	Service string
	Region  string
	Success int
	Failure int
	Cache   int
}

// Stats tracks pricing API call statistics by service and region
type Stats struct {
	mu     sync.RWMutex
	counts map[string]map[string]map[string]int // service -> region -> {success, failure, cache}
}

// NewStats creates an empty statistics tracker
func NewStats() *Stats {
	return &Stats{counts: make(map[string]map[string]map[string]int)}
}

// UpdateCacheHit records a cache hit
func (s *Stats) UpdateCacheHit(service, region string) { s.update(service, region, StatCache) }

// UpdateAPISuccess records a successful API call
func (s *Stats) UpdateAPISuccess(service, region string) { s.update(service, region, StatSuccess) }

// UpdateAPIFailure records a failed API call
func (s *Stats) UpdateAPIFailure(service, region string) { s.update(service, region, StatFailure) }

func (s *Stats) update(service, region, statType string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.counts[service]; !exists {
		s.counts[service] = make(map[string]map[string]int)
	}
	if _, exists := s.counts[service][region]; !exists {
		s.counts[service][region] = map[string]int{
			StatSuccess: 0,
			StatFailure: 0,
			StatCache:   0,
		}
	}
	s.counts[service][region][statType]++
}

// Rows returns a sorted snapshot of the statistics
func (s *Stats) Rows() []StatRow {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []StatRow
	for service, regions := range s.counts {
		for region, c := range regions {
			rows = append(rows, StatRow{
				Service: service,
				Region:  region,
				Success: c[StatSuccess],
				Failure: c[StatFailure],
				Cache:   c[StatCache],
			})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Service != rows[j].Service {
			return rows[i].Service < rows[j].Service
		}
		return rows[i].Region < rows[j].Region
	})
	return rows
}
