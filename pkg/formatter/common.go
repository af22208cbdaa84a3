// Package formatter renders spotnode results as kubectl-style tables or JSON
package formatter

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/younsl/spotnode/internal/models"
)

// newTable returns the kubectl-style tabwriter used by every table
func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
}

// PrintTimestamp prints when an operation finished and how long it took
func PrintTimestamp(w io.Writer, what string, start time.Time, duration time.Duration) {
	fmt.Fprintf(w, "%s completed at %s (took %.2fs)\n", what, start.Format("2006-01-02 15:04:05"), duration.Seconds())
}

// GetPricingMarker returns a short marker for a price source; estimates carry a trailing *
func GetPricingMarker(source models.PriceSource) string {
	switch source {
	case models.PriceSourceAPI:
		return "API"
	case models.PriceSourceCache:
		return "CACHE"
	case models.PriceSourceStale:
		return "STALE*"
	case models.PriceSourceDefault:
		return "DEFAULT*"
	default:
		return "-"
	}
}

// formatPrice formats an hourly USD price
func formatPrice(p float64) string {
	return fmt.Sprintf("$%.4f", p)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
