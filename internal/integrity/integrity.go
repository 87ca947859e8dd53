// Package integrity audits the quality of task data before metrics derived from it are used
// to make decisions about people.
package integrity

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"perfline/internal/domain"
	"perfline/internal/ingest"
)

// Stats holds the raw defect counts of one validation pass.
type Stats struct {
	TotalTasks            int `json:"total_tasks"`
	CompletedTasks        int `json:"completed_tasks"`
	MissingDueDates       int `json:"missing_due_dates"`
	MissingCompletedDates int `json:"missing_completed_dates"`
	MissingAssignedDates  int `json:"missing_assigned_dates"`
	InvalidDates          int `json:"invalid_dates"`
	FutureCompletedDates  int `json:"future_completed_dates"`
	MissingRatings        int `json:"missing_ratings"`
	CompletedBeforeStart  int `json:"completed_before_start"`
	UnknownAssignees      int `json:"unknown_assignees"`
	DataQualityScore      int `json:"data_quality_score"`
}

// Validation is the outcome of ValidateAnalyticsData. Any entry in Errors makes it invalid.
type Validation struct {
	IsValid  bool     `json:"is_valid"`
	Warnings []string `json:"warnings"`
	Errors   []string `json:"errors"`
	Stats    Stats    `json:"stats"`
}

const defectCategories = 5

// ValidateAnalyticsData inspects tasks for data-quality defects in a single pass. Users are
// optional; when given, tasks assigned to unknown ids are reported.
func ValidateAnalyticsData(tasks []domain.Task, users []domain.User, now time.Time) Validation {
	v := Validation{Warnings: []string{}, Errors: []string{}}
	s := &v.Stats
	s.TotalTasks = len(tasks)
	loc := now.Location()

	known := make(map[string]struct{}, len(users))
	for _, u := range users {
		known[u.ID] = struct{}{}
	}

	for _, t := range tasks {
		completedStatus := t.Status == domain.StatusCompleted
		if completedStatus {
			s.CompletedTasks++
			if !t.HasRating() {
				s.MissingRatings++
			}
		}
		if blank(t.DueDate) {
			s.MissingDueDates++
		}
		if blank(t.AssignedDate) && blank(t.CreatedAt) {
			s.MissingAssignedDates++
		}
		if len(users) > 0 && t.AssignedTo != "" {
			if _, ok := known[t.AssignedTo]; !ok {
				s.UnknownAssignees++
			}
		}

		if blank(t.CompletedDate) {
			if completedStatus {
				s.MissingCompletedDates++
			}
			continue
		}
		completed, err := domain.ParseDateIn(t.CompletedDate, loc)
		if err != nil {
			s.InvalidDates++
			continue
		}
		if inFuture(t.CompletedDate, completed, now) {
			s.FutureCompletedDates++
			v.Errors = append(v.Errors, fmt.Sprintf("task %s: completion date %s is in the future", t.ID, t.CompletedDate))
		}
		if started, ok := t.StartedAt(loc); ok && completed.Before(started) {
			s.CompletedBeforeStart++
		}
	}

	penalties := s.MissingDueDates + s.MissingCompletedDates + s.MissingAssignedDates + s.InvalidDates + s.FutureCompletedDates
	units := s.TotalTasks * defectCategories
	s.DataQualityScore = int(math.Floor(float64(units-penalties)/float64(max(units, 1))*100 + 0.5))

	v.Warnings = warnings(*s)
	v.IsValid = len(v.Errors) == 0
	return v
}

// inFuture compares a bare calendar date by day, so a task completed today is never ahead of
// now; timestamps compare exactly.
func inFuture(raw string, ts, now time.Time) bool {
	if domain.IsDateOnly(raw) {
		y, m, d := now.Date()
		return ts.After(time.Date(y, m, d, 0, 0, 0, 0, now.Location()))
	}
	return ts.After(now)
}

// ValidateDocument checks that raw is a dataset whose tasks form an array before validating
// its contents. Structural violations yield an invalid result with empty stats. Users found
// in the document are used when users is empty.
func ValidateDocument(raw []byte, users []domain.User, now time.Time) Validation {
	ds, err := ingest.Decode(raw)
	if err != nil {
		v := Validation{Warnings: []string{}, Errors: []string{}}
		var schemaErr *ingest.SchemaError
		switch {
		case errors.As(err, &schemaErr):
			v.Errors = append(v.Errors, schemaErr.Issues...)
		default:
			v.Errors = append(v.Errors, err.Error())
		}
		return v
	}
	if len(users) == 0 {
		users = ds.Users
	}
	return ValidateAnalyticsData(ds.Tasks, users, now)
}

func warnings(s Stats) []string {
	out := []string{}
	if s.TotalTasks == 0 {
		return append(out, "No tasks found: there is no data to compute metrics from")
	}
	if s.MissingDueDates > 0 {
		out = append(out, fmt.Sprintf("%d of %d tasks (%d%%) have no due date; on-time rate is understated",
			s.MissingDueDates, s.TotalTasks, pct(s.MissingDueDates, s.TotalTasks)))
	}
	if s.MissingCompletedDates > 0 {
		out = append(out, fmt.Sprintf("%d completed tasks have no completion date; they are excluded from completion time and on-time rate",
			s.MissingCompletedDates))
	}
	if s.MissingAssignedDates > 0 {
		out = append(out, fmt.Sprintf("%d tasks have neither an assigned date nor a creation date and cannot be placed in a date range",
			s.MissingAssignedDates))
	}
	if s.InvalidDates > 0 {
		out = append(out, fmt.Sprintf("%d tasks have a completion date that cannot be parsed", s.InvalidDates))
	}
	if s.MissingRatings > 0 {
		out = append(out, fmt.Sprintf("%d of %d completed tasks (%d%%) have no quality rating; quality score is based on %d rated tasks",
			s.MissingRatings, s.CompletedTasks, pct(s.MissingRatings, s.CompletedTasks), s.CompletedTasks-s.MissingRatings))
	}
	if s.CompletedBeforeStart > 0 {
		out = append(out, fmt.Sprintf("%d tasks were completed before they were assigned", s.CompletedBeforeStart))
	}
	if s.UnknownAssignees > 0 {
		out = append(out, fmt.Sprintf("%d tasks are assigned to users that are not in the dataset", s.UnknownAssignees))
	}
	return out
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func pct(part, whole int) int {
	if whole == 0 {
		return 0
	}
	return int(math.Floor(float64(part)/float64(whole)*100 + 0.5))
}
