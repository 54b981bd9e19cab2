package subscription

import (
	"testing"
	"time"

	"github.com/consultahub/consultahub/app/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 30, 0, 0, time.UTC)
}

func TestCalculatePeriodEndMonthly(t *testing.T) {
	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{name: "mid month", from: date(2025, time.March, 15), want: date(2025, time.April, 15)},
		{name: "jan 31 clamps to feb 28", from: date(2025, time.January, 31), want: date(2025, time.February, 28)},
		{name: "jan 31 leap year clamps to feb 29", from: date(2024, time.January, 31), want: date(2024, time.February, 29)},
		{name: "oct 31 clamps to nov 30", from: date(2025, time.October, 31), want: date(2025, time.November, 30)},
		{name: "december rolls year", from: date(2025, time.December, 10), want: date(2026, time.January, 10)},
	}

	for _, tt := range tests {
		got := calculatePeriodEnd(models.PlanIntervalMonthly, tt.from)
		if !got.Equal(tt.want) {
			t.Fatalf("%s: calculatePeriodEnd(monthly, %v) = %v, want %v", tt.name, tt.from, got, tt.want)
		}
	}
}

func TestCalculatePeriodEndYearly(t *testing.T) {
	got := calculatePeriodEnd(models.PlanIntervalYearly, date(2024, time.February, 29))
	want := date(2025, time.February, 28)
	if !got.Equal(want) {
		t.Fatalf("calculatePeriodEnd(yearly, feb 29) = %v, want %v", got, want)
	}

	got = calculatePeriodEnd(models.PlanIntervalYearly, date(2025, time.June, 1))
	want = date(2026, time.June, 1)
	if !got.Equal(want) {
		t.Fatalf("calculatePeriodEnd(yearly) = %v, want %v", got, want)
	}
}

func TestCalculatePeriodEndOneTime(t *testing.T) {
	from := date(2025, time.May, 5)
	got := calculatePeriodEnd(models.PlanIntervalOneTime, from)
	if got.Year() != from.Year()+oneTimeYears {
		t.Fatalf("one_time period end year = %d, want %d", got.Year(), from.Year()+oneTimeYears)
	}
}

func TestCalculatePeriodEndPreservesClock(t *testing.T) {
	from := time.Date(2025, time.January, 31, 23, 59, 58, 0, time.UTC)
	got := calculatePeriodEnd(models.PlanIntervalMonthly, from)
	if got.Hour() != 23 || got.Minute() != 59 || got.Second() != 58 {
		t.Fatalf("period end dropped time of day: %v", got)
	}
}
