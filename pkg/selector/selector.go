// Package selector chooses one priced candidate under a budget
package selector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/younsl/spotnode/internal/config"
	"github.com/younsl/spotnode/internal/models"
)

// Chooser lets an operator pick among ranked in-budget candidates.
// It returns the index of the chosen candidate in ranked.
type Chooser interface {
	Choose(ctx context.Context, ranked []models.Candidate, budget float64) (int, error)
}

// ChooserFunc adapts a function to Chooser
type ChooserFunc func(ctx context.Context, ranked []models.Candidate, budget float64) (int, error)

// Choose calls f
func (f ChooserFunc) Choose(ctx context.Context, ranked []models.Candidate, budget float64) (int, error) {
	return f(ctx, ranked, budget)
}

// Options is the caller's selection policy
type Options struct {
	Mode    config.SelectionMode
	Chooser Chooser // required in interactive mode
}

// BudgetExceededError reports that nothing fit the budget and the cheapest candidate was taken anyway
type BudgetExceededError struct {
	Budget       float64
	InstanceType string
	Region       string
	PricePerHour float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("no configuration fits budget $%.4f/h; using cheapest %s in %s at $%.4f/h",
		e.Budget, e.InstanceType, e.Region, e.PricePerHour)
}

// NoViableConfigurationError is returned when no priced candidate exists.
// Causes carries the availability and pricing failures that eliminated them.
type NoViableConfigurationError struct {
	Causes []error
}

func (e *NoViableConfigurationError) Error() string {
	if len(e.Causes) == 0 {
		return "no viable configuration: catalog produced no priced candidates"
	}
	msgs := make([]string, 0, len(e.Causes))
	for _, c := range e.Causes {
		msgs = append(msgs, c.Error())
	}
	return "no viable configuration:\n  " + strings.Join(msgs, "\n  ")
}

func (e *NoViableConfigurationError) Unwrap() []error {
	return e.Causes
}

// ValueRatio is performance score per USD-hour
func ValueRatio(c models.Candidate) float64 {
	if c.PricePerHour <= 0 {
		return 0
	}
	return float64(c.Profile.PerformanceScore) / c.PricePerHour
}

// Rank returns a copy of candidates with value ratios filled in, ordered by
// ratio descending, then lower price, then catalog order.
func Rank(candidates []models.Candidate) []models.Candidate {
	ranked := withRatios(candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.ValueRatio != b.ValueRatio {
			return a.ValueRatio > b.ValueRatio
		}
		if a.PricePerHour != b.PricePerHour {
			return a.PricePerHour < b.PricePerHour
		}
		return a.CatalogIndex < b.CatalogIndex
	})
	return ranked
}

// Cheapest returns the candidate with the lowest price, ties broken by catalog order
func Cheapest(candidates []models.Candidate) (models.Candidate, bool) {
	if len(candidates) == 0 {
		return models.Candidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.PricePerHour < best.PricePerHour ||
			(c.PricePerHour == best.PricePerHour && c.CatalogIndex < best.CatalogIndex) {
			best = c
		}
	}
	return best, true
}

func withRatios(candidates []models.Candidate) []models.Candidate {
	out := make([]models.Candidate, len(candidates))
	for i, c := range candidates {
		c.ValueRatio = ValueRatio(c)
		out[i] = c
	}
	return out
}

// Select picks a candidate for the budget. When nothing fits, the cheapest
// candidate is returned with WithinBudget=false and a *BudgetExceededError as Warning.
func Select(ctx context.Context, candidates []models.Candidate, budget float64, opts Options) (models.SelectionResult, error) {
	if len(candidates) == 0 {
		return models.SelectionResult{}, &NoViableConfigurationError{}
	}

	all := withRatios(candidates)
	var inBudget []models.Candidate
	for _, c := range all {
		if c.PricePerHour <= budget {
			inBudget = append(inBudget, c)
		}
	}

	switch len(inBudget) {
	case 0:
		cheapest, _ := Cheapest(all)
		return models.SelectionResult{
			Candidate:    cheapest,
			BudgetUsed:   budget,
			WithinBudget: false,
			Warning: &BudgetExceededError{
				Budget:       budget,
				InstanceType: cheapest.InstanceType(),
				Region:       cheapest.Region,
				PricePerHour: cheapest.PricePerHour,
			},
		}, nil
	case 1:
		return models.SelectionResult{Candidate: inBudget[0], BudgetUsed: budget, WithinBudget: true}, nil
	}

	ranked := Rank(inBudget)
	chosen := ranked[0]
	if opts.Mode == config.SelectInteractive {
		if opts.Chooser == nil {
			return models.SelectionResult{}, errors.New("interactive selection requires a chooser")
		}
		idx, err := opts.Chooser.Choose(ctx, ranked, budget)
		if err != nil {
			return models.SelectionResult{}, fmt.Errorf("choosing configuration: %w", err)
		}
		if idx < 0 || idx >= len(ranked) {
			return models.SelectionResult{}, fmt.Errorf("choice %d out of range", idx)
		}
		chosen = ranked[idx]
	}
	return models.SelectionResult{Candidate: chosen, BudgetUsed: budget, WithinBudget: true}, nil
}

// Override resolves an explicitly requested instance type, bypassing ranking.
// If the type is priced in several regions the cheapest is used.
func Override(candidates []models.Candidate, instanceType string, budget float64) (models.SelectionResult, error) {
	var matches []models.Candidate
	for _, c := range candidates {
		if c.InstanceType() == instanceType {
			matches = append(matches, c)
		}
	}
	chosen, ok := Cheapest(withRatios(matches))
	if !ok {
		return models.SelectionResult{}, &NoViableConfigurationError{
			Causes: []error{fmt.Errorf("requested instance type %s has no available, priced configuration", instanceType)},
		}
	}

	result := models.SelectionResult{Candidate: chosen, BudgetUsed: budget, WithinBudget: chosen.PricePerHour <= budget}
	if !result.WithinBudget {
		result.Warning = &BudgetExceededError{
			Budget:       budget,
			InstanceType: chosen.InstanceType(),
			Region:       chosen.Region,
			PricePerHour: chosen.PricePerHour,
		}
	}
	return result, nil
}
