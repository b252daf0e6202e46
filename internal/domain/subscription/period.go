package subscription

import (
	"time"

	"github.com/outcomesignal/entitlements-api/internal/types"
)

// CurrentPeriod returns the monthly billing window containing now, anchored
// at the subscription's creation time. Anchor days that don't exist in a
// month (the 31st in April) fall on that month's last day.
func CurrentPeriod(anchor, now time.Time) types.Period {
	anchor = anchor.UTC()
	now = now.UTC()

	months := (now.Year()-anchor.Year())*12 + int(now.Month()-anchor.Month())
	if months < 0 {
		months = 0
	}
	start := addMonthsClamped(anchor, months)
	for months > 0 && start.After(now) {
		months--
		start = addMonthsClamped(anchor, months)
	}
	return types.Period{Start: start, End: addMonthsClamped(anchor, months+1)}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m := t.Year(), int(t.Month())-1+months
	y += m / 12
	m %= 12
	month := time.Month(m + 1)

	d := t.Day()
	if last := daysIn(y, month); d > last {
		d = last
	}
	return time.Date(y, month, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
