package billing

import (
	"time"

	"github.com/fatflowers/clipmeter/pkg/types"
)

// CurrentPeriod returns the billing window quota usage is measured against.
// Explicit period boundaries from the payment processor are used verbatim;
// a missing boundary falls back to the UTC calendar month containing now
// (first instant of the month through its last whole second).
func CurrentPeriod(snap *types.SubscriptionSnapshot, now time.Time) types.Period {
	monthStart, monthEnd := CalendarMonth(now)
	p := types.Period{Start: monthStart, End: monthEnd}
	if snap == nil {
		return p
	}
	if snap.PeriodStart != nil {
		p.Start = *snap.PeriodStart
	}
	if snap.PeriodEnd != nil {
		p.End = *snap.PeriodEnd
	}
	return p
}

// CalendarMonth returns [first day 00:00:00, last day 23:59:59] of the UTC month containing t.
func CalendarMonth(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Second)
	return start, end
}
