package formatter

import (
	"fmt"
	"io"
	"time"

	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/pricing"
	"github.com/younsl/spotnode/pkg/utils"
)

// PriceRow is one line of the prices command output
type PriceRow struct {
	Candidate      models.Candidate
	OnDemand       float64
	OnDemandSource models.PriceSource
}

// PrintPricesTable prints spot prices next to on-demand prices with the saving
func PrintPricesTable(w io.Writer, rows []PriceRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No prices available.")
		return
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "TYPE\tREGION\tSPOT/HR\tPRICING\tON-DEMAND/HR\tPRICING\tSAVINGS\tCHEAPEST ZONE")
	var totalSpot, totalOnDemand float64
	for _, r := range rows {
		c := r.Candidate
		cheapest := "-"
		if len(c.ZonePrices) > 0 {
			cheapest = fmt.Sprintf("%s (%s)", c.ZonePrices[0].Zone, formatPrice(c.ZonePrices[0].PricePerHour))
		}
		onDemand := "N/A"
		savings := "N/A"
		if r.OnDemand > 0 {
			onDemand = formatPrice(r.OnDemand)
			savings = fmt.Sprintf("%.0f%%", pricing.Savings(c.PricePerHour, r.OnDemand)*100)
			totalSpot += c.PricePerHour
			totalOnDemand += r.OnDemand
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.InstanceType(),
			c.Region,
			formatPrice(c.PricePerHour),
			GetPricingMarker(c.Source),
			onDemand,
			GetPricingMarker(r.OnDemandSource),
			savings,
			cheapest,
		)
	}
	tw.Flush()

	if totalOnDemand > 0 {
		fmt.Fprintf(w, "\nRunning all priced types for a month: spot $%.2f vs on-demand $%.2f\n",
			utils.MonthlyCost(totalSpot), utils.MonthlyCost(totalOnDemand))
	}
	fmt.Fprintln(w, "* estimated price (stale cache or historical default)")
}

// PrintCacheTable prints the price cache entries with their age and freshness
func PrintCacheTable(w io.Writer, entries []pricing.CacheEntry, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "Price cache is empty.")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "TYPE\tREGION\tSAMPLES\tFETCHED\tTTL\tSTATUS")
	for _, e := range entries {
		status := "fresh"
		if !e.Fresh(now) {
			status = "expired"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			e.InstanceType,
			e.Region,
			len(e.Samples),
			utils.FormatAge(e.FetchedAt),
			e.TTL,
			status,
		)
	}
	tw.Flush()
}

// PrintPricingAPIStats prints the statistics of pricing API calls
func PrintPricingAPIStats(w io.Writer, rows []pricing.StatRow) {
	if len(rows) == 0 {
		return
	}

	fmt.Fprintln(w, "\n## Pricing API Call Statistics")

	tw := newTable(w)
	fmt.Fprintln(tw, "SERVICE\tREGION\tAPI CALLS\tSUCCESS\tFAILURE\tCACHE HITS\tSUCCESS RATE")
	for _, r := range rows {
		total := r.Success + r.Failure

		successRate := 0.0
		if total > 0 {
			successRate = float64(r.Success) / float64(total) * 100.0
		}

		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%.1f%%\n",
			r.Service,
			r.Region,
			total,
			r.Success,
			r.Failure,
			r.Cache,
			successRate,
		)
	}
	tw.Flush()
}
