package models

// Candidate joins a catalog profile with its chosen image, region and price
type Candidate struct {
	Profile      InstanceProfile `json:"profile"`
	Image        ResolvedImage   `json:"image"`
	Region       string          `json:"region"`
	Zones        []string        `json:"zones"`
	CatalogIndex int             `json:"catalogIndex"` // position in the catalog, used as the final tie-break

	// Filled in by the pricing analyzer
	PricePerHour float64     `json:"pricePerHour"`
	ZonePrices   []ZonePrice `json:"zonePrices,omitempty"` // ascending by price
	Source       PriceSource `json:"source,omitempty"`
	Estimated    bool        `json:"estimated"`

	// Filled in by the selector; only comparable within one selection pass
	ValueRatio float64 `json:"valueRatio"`
}

// InstanceType is a shortcut for the profile's instance type
func (c Candidate) InstanceType() string {
	return c.Profile.InstanceType
}

// SelectionResult is the outcome of configuration selection
type SelectionResult struct {
	Candidate    Candidate `json:"candidate"`
	BudgetUsed   float64   `json:"budgetUsed"`
	WithinBudget bool      `json:"withinBudget"`
	Warning      error     `json:"-"` // set when the budget was exceeded by necessity
}
