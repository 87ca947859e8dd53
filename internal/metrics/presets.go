package metrics

import (
	"fmt"
	"time"
)

// Preset names, in display order.
const (
	PresetToday       = "today"
	PresetLast7Days   = "last7Days"
	PresetLast30Days  = "last30Days"
	PresetLast90Days  = "last90Days"
	PresetThisMonth   = "thisMonth"
	PresetLastMonth   = "lastMonth"
	PresetThisQuarter = "thisQuarter"
	PresetThisYear    = "thisYear"
)

func PresetNames() []string {
	return []string{
		PresetToday, PresetLast7Days, PresetLast30Days, PresetLast90Days,
		PresetThisMonth, PresetLastMonth, PresetThisQuarter, PresetThisYear,
	}
}

// GetDateRangePresets returns the named ranges anchored at now. Every range starts at
// midnight and ends at the last instant of its final day, in now's location.
func GetDateRangePresets(now time.Time) map[string]Range {
	today := startOfDay(now)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	quarterMonth := time.Month((int(now.Month())-1)/3*3 + 1)
	quarterStart := time.Date(now.Year(), quarterMonth, 1, 0, 0, 0, 0, now.Location())
	yearStart := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())

	lastDays := func(n int) Range {
		return Range{Start: today.AddDate(0, 0, -(n - 1)), End: endOfDay(today)}
	}
	return map[string]Range{
		PresetToday:       {Start: today, End: endOfDay(today)},
		PresetLast7Days:   lastDays(7),
		PresetLast30Days:  lastDays(30),
		PresetLast90Days:  lastDays(90),
		PresetThisMonth:   {Start: monthStart, End: monthStart.AddDate(0, 1, 0).Add(-time.Nanosecond)},
		PresetLastMonth:   {Start: monthStart.AddDate(0, -1, 0), End: monthStart.Add(-time.Nanosecond)},
		PresetThisQuarter: {Start: quarterStart, End: quarterStart.AddDate(0, 3, 0).Add(-time.Nanosecond)},
		PresetThisYear:    {Start: yearStart, End: yearStart.AddDate(1, 0, 0).Add(-time.Nanosecond)},
	}
}

// Preset looks up a single named range.
func Preset(name string, now time.Time) (Range, error) {
	r, ok := GetDateRangePresets(now)[name]
	if !ok {
		return Range{}, fmt.Errorf("unknown date range preset %q", name)
	}
	return r, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}
