package subscription

import (
	"time"

	"github.com/consultahub/consultahub/app/models"
)

// oneTimeYears pushes the period end of one-time purchases far enough out
// that no access check ever sees it lapse. Using a real timestamp instead
// of a null keeps every period comparison free of null handling.
const oneTimeYears = 100

// calculatePeriodEnd returns the end of a billing period starting at from.
func calculatePeriodEnd(interval string, from time.Time) time.Time {
	switch interval {
	case models.PlanIntervalYearly:
		return addMonthsClamped(from, 12)
	case models.PlanIntervalOneTime:
		return from.AddDate(oneTimeYears, 0, 0)
	default:
		return addMonthsClamped(from, 1)
	}
}

// addMonthsClamped adds calendar months, clamping the day to the end of
// the target month instead of letting Go normalize it into the next one
// (Jan 31 + 1 month = Feb 28/29, not Mar 2/3).
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	m := int(month) + months
	year += (m - 1) / 12
	month = time.Month((m-1)%12 + 1)

	if last := lastDayOfMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, hour, min, sec, t.Nanosecond(), t.Location())
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
