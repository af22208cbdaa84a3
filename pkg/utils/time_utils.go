package utils

import (
	"time"

	"github.com/dustin/go-humanize"
)

// MonthlyHours is the number of hours in a month (365 days / 12 months * 24 hours)
const MonthlyHours = 730.0

// MonthlyCost converts an hourly price to an approximate monthly cost
func MonthlyCost(hourly float64) float64 {
	return hourly * MonthlyHours
}

// FormatAge renders a timestamp relative to now (e.g. "3 hours ago")
func FormatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}
