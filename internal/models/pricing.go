package models

import "time"

// PriceSource represents where a price came from
type PriceSource string

const (
	// PriceSourceAPI indicates the price came from a live spot price history query
	PriceSourceAPI PriceSource = "api"

	// PriceSourceCache indicates the price came from a cache entry within its TTL
	PriceSourceCache PriceSource = "cache"

	// PriceSourceStale indicates an expired cache entry was used because the live query failed
	PriceSourceStale PriceSource = "stale"

	// PriceSourceDefault indicates the price came from the built-in historical averages
	PriceSourceDefault PriceSource = "default"
)

// Estimated reports whether prices from this source are estimates rather than fresh market data
func (s PriceSource) Estimated() bool {
	return s == PriceSourceStale || s == PriceSourceDefault
}

// PricePoint is one observed (or synthesized) spot price sample
type PricePoint struct {
	InstanceType string    `json:"instanceType"`
	Zone         string    `json:"zone"`
	Region       string    `json:"region"`
	PricePerHour float64   `json:"pricePerHour"`
	ObservedAt   time.Time `json:"observedAt"`
	Estimated    bool      `json:"estimated"`
}

// ZonePrice is the price of an instance type in a single zone
type ZonePrice struct {
	Zone         string  `json:"zone"`
	PricePerHour float64 `json:"pricePerHour"`
}
