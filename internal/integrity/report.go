package integrity

import (
	"fmt"
	"sort"
)

type Status string

const (
	StatusGood     Status = "good"
	StatusWarning  Status = "warning"
	StatusPoor     Status = "poor"
	StatusCritical Status = "critical"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	}
	return 3
}

type Recommendation struct {
	Priority Priority `json:"priority"`
	Category string   `json:"category"`
	Message  string   `json:"message"`
}

// Report is the presentation-ready summary of a Validation.
type Report struct {
	Status          Status           `json:"status"`
	Score           int              `json:"score"`
	IsValid         bool             `json:"is_valid"`
	Summary         string           `json:"summary"`
	Warnings        []string         `json:"warnings"`
	Errors          []string         `json:"errors"`
	Recommendations []Recommendation `json:"recommendations"`
	Stats           Stats            `json:"stats"`
}

const (
	poorThreshold = 70
	goodThreshold = 90
)

// GenerateDataIntegrityReport classifies a validation and derives recommendations ordered
// from most to least urgent.
func GenerateDataIntegrityReport(v Validation) Report {
	s := v.Stats
	r := Report{
		Score:           s.DataQualityScore,
		IsValid:         v.IsValid,
		Warnings:        v.Warnings,
		Errors:          v.Errors,
		Recommendations: []Recommendation{},
		Stats:           s,
	}
	switch {
	case len(v.Errors) > 0:
		r.Status = StatusCritical
	case s.DataQualityScore < poorThreshold:
		r.Status = StatusPoor
	case s.DataQualityScore < goodThreshold || len(v.Warnings) > 0:
		r.Status = StatusWarning
	default:
		r.Status = StatusGood
	}
	r.Summary = fmt.Sprintf("Data quality %s: score %d/100 across %d tasks, %d warnings, %d errors",
		r.Status, s.DataQualityScore, s.TotalTasks, len(v.Warnings), len(v.Errors))

	add := func(p Priority, category, msg string) {
		r.Recommendations = append(r.Recommendations, Recommendation{Priority: p, Category: category, Message: msg})
	}
	if s.MissingDueDates > 0 {
		add(PriorityHigh, "due_dates",
			fmt.Sprintf("Set due dates on the %d tasks without one so on-time rate reflects real delivery", s.MissingDueDates))
	}
	if s.CompletedTasks > 0 && s.MissingRatings*2 > s.CompletedTasks {
		add(PriorityHigh, "ratings",
			fmt.Sprintf("Rate completed work: %d of %d completed tasks have no rating", s.MissingRatings, s.CompletedTasks))
	}
	if s.MissingCompletedDates > 0 {
		add(PriorityMedium, "completion_dates",
			fmt.Sprintf("Record completion dates for the %d completed tasks missing one", s.MissingCompletedDates))
	}
	if s.InvalidDates > 0 {
		add(PriorityMedium, "invalid_dates",
			fmt.Sprintf("Fix the %d completion dates that are not valid dates", s.InvalidDates))
	}
	if s.MissingAssignedDates > 0 {
		add(PriorityMedium, "start_dates",
			fmt.Sprintf("Record an assigned or creation date for the %d tasks missing both", s.MissingAssignedDates))
	}
	if s.CompletedBeforeStart > 0 {
		add(PriorityLow, "date_order",
			fmt.Sprintf("Review the %d tasks whose completion precedes their assignment", s.CompletedBeforeStart))
	}
	if s.UnknownAssignees > 0 {
		add(PriorityLow, "assignees",
			fmt.Sprintf("Import the users referenced by %d tasks", s.UnknownAssignees))
	}
	if s.FutureCompletedDates > 0 {
		add(PriorityCritical, "future_dates",
			fmt.Sprintf("Correct the %d completion dates set in the future before using these metrics", s.FutureCompletedDates))
	}
	sort.SliceStable(r.Recommendations, func(i, j int) bool {
		return r.Recommendations[i].Priority.rank() < r.Recommendations[j].Priority.rank()
	})
	return r
}
