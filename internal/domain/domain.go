package domain

import (
	"errors"
	"strings"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusOverdue    Status = "overdue"
	StatusBlocked    Status = "blocked"
)

// Statuses lists every task status in display order.
func Statuses() []Status {
	return []Status{StatusNotStarted, StatusInProgress, StatusCompleted, StatusOverdue, StatusBlocked}
}

func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusOverdue, StatusBlocked:
		return true
	}
	return false
}

// Role is the organisational role of a user.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleEmployee:
		return true
	}
	return false
}

// Task is a unit of tracked work. Date fields hold the raw values received from the data
// source so malformed values can be reported instead of silently dropped.
type Task struct {
	ID            string   `json:"id"`
	Title         string   `json:"title,omitempty"`
	Status        Status   `json:"status" enum:"not_started,in_progress,completed,overdue,blocked"`
	AssignedTo    string   `json:"assigned_to,omitempty"`
	Project       string   `json:"project,omitempty"`
	Vertical      string   `json:"vertical,omitempty"`
	Department    string   `json:"department,omitempty"`
	AssignedDate  string   `json:"assigned_date,omitempty"`
	CreatedAt     string   `json:"created_at,omitempty"`
	UpdatedAt     string   `json:"updated_at,omitempty"`
	DueDate       string   `json:"due_date,omitempty"`
	CompletedDate string   `json:"completed_date,omitempty"`
	Rating        *float64 `json:"rating,omitempty"`
	ActualHours   *float64 `json:"actual_hours,omitempty"`
}

// StartedAt returns the moment the task entered the system: assigned_date, falling back to
// created_at. The first non-empty value wins even if it does not parse. Values without a zone
// are read in loc.
func (t Task) StartedAt(loc *time.Location) (time.Time, bool) {
	return firstDate(loc, t.AssignedDate, t.CreatedAt)
}

// ActivityAt returns the most recent known activity: completed_date, then updated_at, then
// created_at.
func (t Task) ActivityAt(loc *time.Location) (time.Time, bool) {
	return firstDate(loc, t.CompletedDate, t.UpdatedAt, t.CreatedAt)
}

// HasRating reports whether the task carries a usable quality rating.
func (t Task) HasRating() bool {
	return t.Rating != nil && *t.Rating > 0
}

func firstDate(loc *time.Location, values ...string) (time.Time, bool) {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		ts, err := ParseDateIn(v, loc)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	}
	return time.Time{}, false
}

var ErrInvalidDate = errors.New("invalid date")

const dateOnlyLayout = "2006-01-02"

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	dateOnlyLayout,
}

// ParseDate parses the date formats accepted from data sources. Values without a zone are
// read as UTC.
func ParseDate(s string) (time.Time, error) {
	return ParseDateIn(s, time.UTC)
}

// ParseDateIn is ParseDate with values that carry no zone read in loc, so a calendar date
// names that day in loc rather than in UTC. A nil loc means UTC.
func ParseDateIn(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidDate
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range dateLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, ErrInvalidDate
}

// IsDateOnly reports whether s is a bare calendar date with no time of day.
func IsDateOnly(s string) bool {
	_, err := time.Parse(dateOnlyLayout, strings.TrimSpace(s))
	return err == nil
}

type User struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Role       Role   `json:"role" enum:"admin,manager,employee"`
	Department string `json:"department,omitempty"`
	ManagerID  string `json:"manager_id,omitempty"`
	CreatedAt  string `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt  string `json:"updated_at,omitempty" format:"date-time"`
}

type Org struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// AuditRecord is a persisted metrics audit entry. Metrics cover the MetricsTasks tasks inside
// the range; data quality and readiness cover the ValidatedTasks tasks visible to the user.
type AuditRecord struct {
	ID             string `json:"id"`
	OrgID          string `json:"org_id"`
	UserID         string `json:"user_id"`
	TS             string `json:"ts" format:"date-time"`
	Version        string `json:"version"`
	Ready          bool   `json:"ready"`
	Confidence     int    `json:"confidence"`
	RangeStart     string `json:"range_start,omitempty"`
	RangeEnd       string `json:"range_end,omitempty"`
	MetricsTasks   int    `json:"metrics_tasks"`
	ValidatedTasks int    `json:"validated_tasks"`
	MetricsJSON   string `json:"metrics_json"`
	QualityJSON   string `json:"data_quality_json"`
	ReadinessJSON string `json:"readiness_json"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// UserSettings holds per-user dashboard preferences.
type UserSettings struct {
	UserID        string `json:"user_id"`
	DefaultPreset string `json:"default_preset,omitempty"`
	TrendDays     int    `json:"trend_days,omitempty"`
	Theme         string `json:"theme,omitempty"`
	Notifications bool   `json:"notifications"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}
