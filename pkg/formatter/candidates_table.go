package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/utils"
)

// PrintCandidatesTable prints priced candidates in the given order, marking
// those over budget
func PrintCandidatesTable(w io.Writer, candidates []models.Candidate, budget float64) {
	if len(candidates) == 0 {
		fmt.Fprintln(w, "No priced candidates.")
		return
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "TYPE\tGPU\tVCPU\tRAM\tREGION\tPRICE/HR\tCOST/MO\tVALUE\tPRICING\tBUDGET\tZONES")
	for _, c := range candidates {
		inBudget := "ok"
		if budget > 0 && c.PricePerHour > budget {
			inBudget = "over"
		}
		fmt.Fprintf(tw, "%s\t%dx %s\t%d\t%.0fG\t%s\t%s\t$%.2f\t%.2f\t%s\t%s\t%s\n",
			c.InstanceType(),
			c.Profile.GPUCount,
			c.Profile.GPUType,
			c.Profile.VCPUs,
			c.Profile.RAMGB,
			c.Region,
			formatPrice(c.PricePerHour),
			utils.MonthlyCost(c.PricePerHour),
			c.ValueRatio,
			GetPricingMarker(c.Source),
			inBudget,
			strings.Join(c.Zones, ","),
		)
	}
	if budget > 0 {
		fmt.Fprintf(tw, "Budget:\t\t\t\t\t%s\n", formatPrice(budget))
	}
	tw.Flush()
}

// PrintUnavailable lists profiles that cannot run in the region, with reasons
func PrintUnavailable(w io.Writer, errs []error) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintln(w, "\nUnavailable:")
	for _, err := range errs {
		fmt.Fprintf(w, "  - %v\n", err)
	}
}

// PrintSelection prints the chosen configuration and any budget warning
func PrintSelection(w io.Writer, sel models.SelectionResult) {
	c := sel.Candidate
	fmt.Fprintf(w, "Selected %s (%dx %s) in %s at %s/hr",
		c.InstanceType(), c.Profile.GPUCount, c.Profile.GPUType, c.Region, formatPrice(c.PricePerHour))
	if c.Estimated {
		fmt.Fprint(w, " (estimated)")
	}
	fmt.Fprintf(w, ", budget %s\n", formatPrice(sel.BudgetUsed))
	if c.Image.ID != "" {
		fmt.Fprintf(w, "Image: %s %s (%s)\n", c.Image.ID, orDash(c.Image.Name), orDash(c.Image.Rank))
	}
	if sel.Warning != nil {
		fmt.Fprintf(w, "WARNING: %v\n", sel.Warning)
	}
}
