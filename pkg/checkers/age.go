package checkers

import (
	"time"

	"github.com/haslamdb/aegis-sub000/pkg/datasource"
)

// Calendar conversions used everywhere an age in days becomes months or years.
const (
	DaysPerMonth = 30.44
	DaysPerYear  = 365.25
)

// AgeDays is whole days from birth to at.
func AgeDays(birth *time.Time, at time.Time) *int {
	return datasource.AgeDays(birth, at)
}

func MonthsFromDays(days int) float64 {
	return float64(days) / DaysPerMonth
}

func YearsFromDays(days int) float64 {
	return float64(days) / DaysPerYear
}
