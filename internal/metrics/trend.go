package metrics

import (
	"time"

	"perfline/internal/domain"
)

const DefaultTrendDays = 30

const dayLayout = "2006-01-02"

// TrendPoint holds the activity counted on one calendar day.
type TrendPoint struct {
	Date       string `json:"date"`
	Completed  int    `json:"completed"`
	Created    int    `json:"created"`
	InProgress int    `json:"in_progress"`
}

// CalculateTrendData returns one point per calendar day for the trailing days days ending
// today, oldest first. Days are calendar days in now's location, and task dates without a
// zone are read in that location too.
func CalculateTrendData(tasks []domain.Task, days int, now time.Time) []TrendPoint {
	if days <= 0 {
		days = DefaultTrendDays
	}
	loc := now.Location()
	today := startOfDay(now)

	points := make([]TrendPoint, days)
	index := make(map[string]int, days)
	for i := range points {
		day := today.AddDate(0, 0, i-(days-1))
		key := day.Format(dayLayout)
		points[i].Date = key
		index[key] = i
	}

	bucket := func(ts time.Time) (int, bool) {
		i, ok := index[ts.In(loc).Format(dayLayout)]
		return i, ok
	}
	for _, t := range tasks {
		if started, ok := t.StartedAt(loc); ok {
			if i, ok := bucket(started); ok {
				points[i].Created++
			}
		}
		if t.Status != domain.StatusCompleted && t.Status != domain.StatusInProgress {
			continue
		}
		active, ok := t.ActivityAt(loc)
		if !ok {
			continue
		}
		i, ok := bucket(active)
		if !ok {
			continue
		}
		if t.Status == domain.StatusCompleted {
			points[i].Completed++
		} else {
			points[i].InProgress++
		}
	}
	return points
}
