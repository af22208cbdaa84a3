package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/selector"
	"github.com/younsl/spotnode/pkg/teardown"
)

// errSelectionAborted is returned when the operator leaves the selection prompt
var errSelectionAborted = errors.New("selection aborted")

// candidateLabel is the one-line description shown for a candidate in the selection prompt
func candidateLabel(c models.Candidate) string {
	label := fmt.Sprintf("%-14s %dx %-6s %3d vCPU %4.0f GiB  $%.4f/hr  value %.1f",
		c.InstanceType(), c.Profile.GPUCount, c.Profile.GPUType,
		c.Profile.VCPUs, c.Profile.RAMGB, c.PricePerHour, c.ValueRatio)
	if c.Estimated {
		label += "  (estimated)"
	}
	return label
}

// promptChooser asks the operator to pick among ranked in-budget candidates
func promptChooser() selector.Chooser {
	return selector.ChooserFunc(func(ctx context.Context, ranked []models.Candidate, budget float64) (int, error) {
		options := make([]huh.Option[int], 0, len(ranked))
		for i, c := range ranked {
			options = append(options, huh.NewOption(candidateLabel(c), i))
		}

		choice := 0
		form := huh.NewForm(huh.NewGroup(
			huh.NewSelect[int]().
				Title(fmt.Sprintf("Select a configuration (budget $%.4f/hr)", budget)).
				Description("Ordered by performance per dollar").
				Options(options...).
				Value(&choice),
		))
		if err := form.RunWithContext(ctx); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return -1, errSelectionAborted
			}
			return -1, err
		}
		return choice, nil
	})
}

// planDescription summarizes a teardown plan by kind in deletion order
func planDescription(plan teardown.Plan) string {
	var b strings.Builder
	for _, step := range plan.Steps {
		fmt.Fprintf(&b, "%-22s %d\n", step.Kind, len(step.Records))
	}
	if n := len(plan.DiscoveryErrors); n > 0 {
		fmt.Fprintf(&b, "\n%d resource kinds could not be listed", n)
	}
	return strings.TrimRight(b.String(), "\n")
}

// promptConfirmer asks the operator to approve a teardown plan
func promptConfirmer() teardown.Confirmer {
	return teardown.ConfirmerFunc(func(ctx context.Context, plan teardown.Plan) (bool, error) {
		confirm := false
		form := huh.NewForm(huh.NewGroup(
			huh.NewNote().
				Title(fmt.Sprintf("Stack %s: %d resources", plan.Stack, plan.Len())).
				Description(planDescription(plan)),
			huh.NewConfirm().
				Title("Delete these resources? This action cannot be undone.").
				Affirmative("Yes, delete").
				Negative("Cancel").
				Value(&confirm),
		))
		if err := form.RunWithContext(ctx); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return false, teardown.ErrNotConfirmed
			}
			return false, err
		}
		return confirm, nil
	})
}
