// Package metrics turns task records into performance indicators: rates, composite scores,
// per-entity rollups, grades and date-range presets. Every function is pure and takes the
// current time explicitly when it needs one.
package metrics

import (
	"math"
	"time"

	"perfline/internal/domain"
)

// Range is an inclusive time window. A zero bound leaves that side open. Task dates without
// a zone are read in the range's location: Loc, else the location of a set bound, else UTC.
type Range struct {
	Start time.Time      `json:"start"`
	End   time.Time      `json:"end"`
	Loc   *time.Location `json:"-"`
}

// Location returns the timezone calendar dates are read in for this range.
func (r Range) Location() *time.Location {
	switch {
	case r.Loc != nil:
		return r.Loc
	case !r.Start.IsZero():
		return r.Start.Location()
	case !r.End.IsZero():
		return r.End.Location()
	}
	return time.UTC
}

func (r Range) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Contains reports whether ts lies within the range, bounds included.
func (r Range) Contains(ts time.Time) bool {
	if !r.Start.IsZero() && ts.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && ts.After(r.End) {
		return false
	}
	return true
}

// FilterByRange keeps the tasks whose start of work falls inside r. When r has a bound,
// tasks without a usable start date are dropped since they cannot be placed in time.
func FilterByRange(tasks []domain.Task, r Range) []domain.Task {
	loc := r.Location()
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if r.IsZero() {
			out = append(out, t)
			continue
		}
		started, ok := t.StartedAt(loc)
		if !ok || !r.Contains(started) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Result is the aggregate view of a task set.
type Result struct {
	TotalTasks            int  `json:"total_tasks"`
	CompletedTasks        int  `json:"completed_tasks"`
	InProgressTasks       int  `json:"in_progress_tasks"`
	NotStartedTasks       int  `json:"not_started_tasks"`
	OverdueTasks          int  `json:"overdue_tasks"`
	BlockedTasks          int  `json:"blocked_tasks"`
	CompletionRate        int  `json:"completion_rate"`
	OnTimeCompletions     int  `json:"on_time_completions"`
	OnTimeRate            int  `json:"on_time_rate"`
	AverageCompletionTime int  `json:"average_completion_time"`
	ProductivityScore     int  `json:"productivity_score"`
	QualityScore          int  `json:"quality_score"`
	TasksWithRatings      int  `json:"tasks_with_ratings"`
	HasQualityData        bool `json:"has_quality_data"`
	WorkloadScore         int  `json:"workload_score"`
}

// Productivity weights. Fixed by product definition.
const (
	weightCompletion = 0.4
	weightOnTime     = 0.3
	weightSpeed      = 0.2
	weightUnblocked  = 0.1

	workloadBaseline = 10
	workloadPenalty  = 5
	maxRating        = 5.0
)

// CalculateAdvancedMetrics aggregates tasks, optionally restricted to r, into a Result.
func CalculateAdvancedMetrics(tasks []domain.Task, r Range) Result {
	tasks = FilterByRange(tasks, r)
	loc := r.Location()

	var res Result
	res.TotalTasks = len(tasks)

	var (
		completionDays  int
		completionCount int
		ratingSum       float64
	)
	for _, t := range tasks {
		switch t.Status {
		case domain.StatusCompleted:
			res.CompletedTasks++
		case domain.StatusInProgress:
			res.InProgressTasks++
		case domain.StatusNotStarted:
			res.NotStartedTasks++
		case domain.StatusOverdue:
			res.OverdueTasks++
		case domain.StatusBlocked:
			res.BlockedTasks++
		}
		if t.HasRating() {
			res.TasksWithRatings++
			ratingSum += *t.Rating
		}
		if t.Status != domain.StatusCompleted {
			continue
		}
		completed, err := domain.ParseDateIn(t.CompletedDate, loc)
		if err != nil {
			continue
		}
		if due, err := domain.ParseDateIn(t.DueDate, loc); err == nil && !completed.After(due) {
			res.OnTimeCompletions++
		}
		if started, ok := t.StartedAt(loc); ok && !completed.Before(started) {
			completionDays += ceilDays(completed.Sub(started))
			completionCount++
		}
	}

	res.CompletionRate = percent(res.CompletedTasks, res.TotalTasks)
	res.OnTimeRate = percent(res.OnTimeCompletions, res.CompletedTasks)
	if completionCount > 0 {
		res.AverageCompletionTime = round(float64(completionDays) / float64(completionCount))
	}

	var blockedRatio float64
	if res.TotalTasks > 0 {
		blockedRatio = float64(res.BlockedTasks) / float64(res.TotalTasks)
	}
	score := weightCompletion*float64(res.CompletionRate) +
		weightOnTime*float64(res.OnTimeRate) +
		weightSpeed*math.Max(0, 100-float64(res.AverageCompletionTime)*2) +
		weightUnblocked*math.Max(0, 100-blockedRatio*100)
	res.ProductivityScore = clamp(round(score), 0, 100)

	if res.TasksWithRatings > 0 {
		avg := ratingSum / float64(res.TasksWithRatings)
		res.QualityScore = round(avg / maxRating * 100)
		res.HasQualityData = true
	}

	res.WorkloadScore = workloadScore(res.TotalTasks)
	return res
}

func workloadScore(total int) int {
	if total == 0 {
		return 100
	}
	return clamp(100-(total-workloadBaseline)*workloadPenalty, 0, 100)
}

func ceilDays(d time.Duration) int {
	return int(math.Ceil(d.Hours() / 24))
}

// percent returns round(part/whole*100), or 0 when whole is 0.
func percent(part, whole int) int {
	if whole == 0 {
		return 0
	}
	return round(float64(part) / float64(whole) * 100)
}

// round rounds halves up, matching Math.round in the dashboards that consume these numbers.
func round(x float64) int {
	return int(math.Floor(x + 0.5))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
