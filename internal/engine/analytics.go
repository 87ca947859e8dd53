package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"perfline/internal/domain"
	"perfline/internal/engine/auth"
	"perfline/internal/events"
	"perfline/internal/integrity"
	"perfline/internal/metrics"
	"perfline/internal/repo"
)

// Scope is the set of users whose data an actor may read.
type Scope struct {
	ActorID string      `json:"actor_id"`
	Role    domain.Role `json:"role"`
	All     bool        `json:"all"`
	UserIDs []string    `json:"user_ids,omitempty"`
}

func (s Scope) Allows(userID string) bool {
	return s.All || slices.Contains(s.UserIDs, userID)
}

// ResolveScope derives the actor's visibility from their permissions: everything, themselves
// plus direct reports, or only themselves.
func (e Engine) ResolveScope(ctx context.Context, actorID string) (Scope, error) {
	orgID, err := e.orgID()
	if err != nil {
		return Scope{}, err
	}
	perms, err := e.Auth.UserPermissions(ctx, orgID, actorID)
	if err != nil {
		return Scope{}, err
	}
	role, err := e.Auth.UserRole(ctx, orgID, actorID)
	if err != nil {
		return Scope{}, err
	}
	s := Scope{ActorID: actorID, Role: domain.Role(role)}
	switch {
	case slices.Contains(perms, auth.PermReadAll):
		s.All = true
	case slices.Contains(perms, auth.PermReadTeam):
		reports, err := e.Repo.DirectReports(ctx, orgID, actorID)
		if err != nil {
			return Scope{}, err
		}
		s.UserIDs = []string{actorID}
		for _, u := range reports {
			s.UserIDs = append(s.UserIDs, u.ID)
		}
	case slices.Contains(perms, auth.PermReadSelf):
		s.UserIDs = []string{actorID}
	default:
		return Scope{}, auth.ForbiddenError{Permission: auth.PermReadSelf}
	}
	return s, nil
}

// Query selects the data an analytics call works on.
type Query struct {
	ActorID string
	// Subject narrows the data to one user's tasks; it must be inside the actor's scope.
	Subject string
	Preset  string
	Start   string
	End     string
}

// VisibleData loads the tasks and users the actor may see, narrowed to the query subject.
// Tasks are not date-filtered.
func (e Engine) VisibleData(ctx context.Context, q Query) ([]domain.Task, []domain.User, Scope, error) {
	orgID, err := e.orgID()
	if err != nil {
		return nil, nil, Scope{}, err
	}
	scope, err := e.ResolveScope(ctx, q.ActorID)
	if err != nil {
		return nil, nil, Scope{}, err
	}
	tf := repo.TaskFilters{OrgID: orgID}
	uf := repo.UserFilters{OrgID: orgID}
	switch {
	case q.Subject != "":
		if !scope.Allows(q.Subject) {
			return nil, nil, Scope{}, auth.ForbiddenError{Permission: auth.PermReadTeam}
		}
		tf.AssignedTo = []string{q.Subject}
		uf.IDs = []string{q.Subject}
	case !scope.All:
		tf.AssignedTo = scope.UserIDs
		uf.IDs = scope.UserIDs
	}
	tasks, err := e.Repo.ListTasks(ctx, tf)
	if err != nil {
		return nil, nil, Scope{}, err
	}
	users, err := e.Repo.ListUsers(ctx, uf)
	if err != nil {
		return nil, nil, Scope{}, err
	}
	return tasks, users, scope, nil
}

// ResolveRange turns a preset name or explicit bounds into a range in the org timezone.
// Explicit bounds win over the preset; a date-only end covers that whole day. An empty query
// is unbounded.
func (e Engine) ResolveRange(q Query) (metrics.Range, error) {
	now := e.localNow()
	loc := now.Location()
	if q.Start != "" || q.End != "" {
		r := metrics.Range{Loc: loc}
		if q.Start != "" {
			ts, err := domain.ParseDateIn(q.Start, loc)
			if err != nil {
				return r, fmt.Errorf("%w: start %q", ErrInvalidArgument, q.Start)
			}
			r.Start = ts
		}
		if q.End != "" {
			ts, err := domain.ParseDateIn(q.End, loc)
			if err != nil {
				return r, fmt.Errorf("%w: end %q", ErrInvalidArgument, q.End)
			}
			if domain.IsDateOnly(q.End) {
				ts = ts.AddDate(0, 0, 1).Add(-time.Nanosecond)
			}
			r.End = ts
		}
		if !r.Start.IsZero() && !r.End.IsZero() && r.Start.After(r.End) {
			return r, fmt.Errorf("%w: start is after end", ErrInvalidArgument)
		}
		return r, nil
	}
	if q.Preset == "" || q.Preset == "all" {
		return metrics.Range{Loc: loc}, nil
	}
	r, err := metrics.Preset(q.Preset, now)
	if err != nil {
		return r, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	r.Loc = loc
	return r, nil
}

// rangeFor resolves q, falling back to the actor's default preset and then the org's when the
// query names no range.
func (e Engine) rangeFor(ctx context.Context, q Query) (metrics.Range, error) {
	if q.Preset == "" && q.Start == "" && q.End == "" {
		orgID, err := e.orgID()
		if err != nil {
			return metrics.Range{}, err
		}
		q.Preset = e.Config().Analytics.DefaultPreset
		if s, err := e.Repo.GetUserSettings(ctx, orgID, q.ActorID); err == nil && s.DefaultPreset != "" {
			q.Preset = s.DefaultPreset
		}
	}
	return e.ResolveRange(q)
}

// Dashboard is the combined analytics view rendered by dashboards and exports.
type Dashboard struct {
	OrgID      string               `json:"org_id"`
	Subject    string               `json:"subject,omitempty"`
	Range      metrics.Range        `json:"range"`
	Metrics    metrics.Result       `json:"metrics"`
	Grade      metrics.Grade        `json:"grade"`
	Validation integrity.Validation `json:"validation"`
	Report     integrity.Report     `json:"report"`
	Readiness  integrity.Readiness  `json:"readiness"`
	AuditID    string               `json:"audit_id"`
}

// Dashboard computes metrics over the ranged tasks and validates the whole visible set, then
// records the computation in the audit log together with the range and both task counts.
func (e Engine) Dashboard(ctx context.Context, q Query) (Dashboard, error) {
	started := time.Now()
	orgID, err := e.orgID()
	if err != nil {
		return Dashboard{}, err
	}
	r, err := e.rangeFor(ctx, q)
	if err != nil {
		return Dashboard{}, err
	}
	tasks, users, _, err := e.VisibleData(ctx, q)
	if err != nil {
		return Dashboard{}, err
	}
	now := e.localNow()
	res := metrics.CalculateAdvancedMetrics(tasks, r)
	v := integrity.ValidateAnalyticsData(tasks, users, now)
	entry := integrity.CreateMetricsAuditLog(q.ActorID, res, v, now)

	d := Dashboard{
		OrgID:      orgID,
		Subject:    q.Subject,
		Range:      r,
		Metrics:    res,
		Grade:      metrics.GetPerformanceGrade(float64(res.ProductivityScore)),
		Validation: v,
		Report:     integrity.GenerateDataIntegrityReport(v),
		Readiness:  entry.DecisionReadiness,
	}
	d.AuditID, err = e.recordAudit(ctx, orgID, q, r, entry)
	if err != nil {
		return Dashboard{}, err
	}
	e.Telemetry.ObserveComputation("dashboard", started)
	e.Telemetry.ObserveReadiness(orgID, d.Readiness.Ready, v.Stats.DataQualityScore)
	e.log().InfoContext(ctx, "dashboard computed",
		"org", orgID, "actor", q.ActorID, "subject", q.Subject, "tasks", res.TotalTasks,
		"productivity", res.ProductivityScore, "quality", v.Stats.DataQualityScore, "ready", d.Readiness.Ready)
	return d, nil
}

func (e Engine) recordAudit(ctx context.Context, orgID string, q Query, r metrics.Range, entry integrity.AuditEntry) (string, error) {
	metricsJSON, err := json.Marshal(entry.Metrics)
	if err != nil {
		return "", err
	}
	qualityJSON, err := json.Marshal(entry.DataQuality)
	if err != nil {
		return "", err
	}
	readinessJSON, err := json.Marshal(entry.DecisionReadiness)
	if err != nil {
		return "", err
	}
	rec := domain.AuditRecord{
		ID:            uuid.NewString(),
		OrgID:         orgID,
		UserID:        entry.UserID,
		TS:            entry.Timestamp.Format(time.RFC3339Nano),
		Version:       entry.Version,
		Ready:         entry.DecisionReadiness.Ready,
		Confidence:    entry.DecisionReadiness.Confidence,
		MetricsJSON:   string(metricsJSON),
		QualityJSON:   string(qualityJSON),
		ReadinessJSON: string(readinessJSON),

		RangeStart:     formatBound(r.Start),
		RangeEnd:       formatBound(r.End),
		MetricsTasks:   entry.Metrics.TotalTasks,
		ValidatedTasks: entry.DataQuality.TotalTasks,
	}
	err = e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertAuditRecordTx(ctx, tx, rec); err != nil {
			return fmt.Errorf("insert audit record: %w", err)
		}
		payload := events.EventPayload{
			"audit_id":           rec.ID,
			"subject":            q.Subject,
			"productivity_score": entry.Metrics.ProductivityScore,
			"data_quality_score": entry.DataQuality.Score,
			"ready":              rec.Ready,
			"confidence":         rec.Confidence,
			"metrics_tasks":      rec.MetricsTasks,
			"validated_tasks":    rec.ValidatedTasks,
		}
		if _, err := e.Events.Append(ctx, tx, events.TypeMetricsComputed, orgID, "audit", rec.ID, q.ActorID, payload); err != nil {
			return err
		}
		if rec.Ready {
			return nil
		}
		_, err := e.Events.Append(ctx, tx, events.TypeReadinessBlocked, orgID, "audit", rec.ID, q.ActorID, events.EventPayload{
			"reason":   entry.DecisionReadiness.Reason,
			"blockers": entry.DecisionReadiness.Blockers,
		})
		return err
	})
	return rec.ID, err
}

func formatBound(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Format(time.RFC3339Nano)
}

// Trend returns daily activity for the trailing days. days <= 0 falls back to the actor's
// settings, then to the org config.
func (e Engine) Trend(ctx context.Context, q Query, days int) ([]metrics.TrendPoint, error) {
	started := time.Now()
	tasks, _, _, err := e.VisibleData(ctx, q)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = e.preferredTrendDays(ctx, q.ActorID)
	}
	if days > 366 {
		return nil, fmt.Errorf("%w: days must be at most 366", ErrInvalidArgument)
	}
	points := metrics.CalculateTrendData(tasks, days, e.localNow())
	e.Telemetry.ObserveComputation("trend", started)
	return points, nil
}

func (e Engine) preferredTrendDays(ctx context.Context, actorID string) int {
	orgID, err := e.orgID()
	if err != nil {
		return 0
	}
	if s, err := e.Repo.GetUserSettings(ctx, orgID, actorID); err == nil && s.TrendDays > 0 {
		return s.TrendDays
	}
	return e.Config().TrendDays()
}

// Dimensions accepted by Breakdown.
const (
	DimensionProject    = "project"
	DimensionVertical   = "vertical"
	DimensionDepartment = "department"
)

func (e Engine) Breakdown(ctx context.Context, q Query, dimension string) ([]metrics.GroupMetrics, error) {
	started := time.Now()
	r, err := e.rangeFor(ctx, q)
	if err != nil {
		return nil, err
	}
	tasks, users, _, err := e.VisibleData(ctx, q)
	if err != nil {
		return nil, err
	}
	tasks = metrics.FilterByRange(tasks, r)
	var groups []metrics.GroupMetrics
	switch dimension {
	case DimensionProject:
		groups = metrics.CalculateProjectMetrics(tasks)
	case DimensionVertical:
		groups = metrics.CalculateVerticalMetrics(tasks)
	case DimensionDepartment:
		groups = metrics.CalculateDepartmentMetrics(tasks, users)
	default:
		return nil, fmt.Errorf("%w: unknown dimension %q", ErrInvalidArgument, dimension)
	}
	e.Telemetry.ObserveComputation("breakdown", started)
	return groups, nil
}

// Team ranks the visible members by productivity. The actor is left out unless they can only
// see themselves.
func (e Engine) Team(ctx context.Context, q Query) ([]metrics.EmployeeMetrics, error) {
	started := time.Now()
	r, err := e.rangeFor(ctx, q)
	if err != nil {
		return nil, err
	}
	tasks, users, scope, err := e.VisibleData(ctx, q)
	if err != nil {
		return nil, err
	}
	selfOnly := !scope.All && len(scope.UserIDs) == 1
	members := make([]domain.User, 0, len(users))
	for _, u := range users {
		if u.Role == domain.RoleAdmin {
			continue
		}
		if u.ID == q.ActorID && !selfOnly && q.Subject == "" {
			continue
		}
		members = append(members, u)
	}
	out := metrics.CalculateTeamMetrics(members, tasks, r)
	e.Telemetry.ObserveComputation("team", started)
	return out, nil
}

// Managers rolls up each visible manager's direct reports.
func (e Engine) Managers(ctx context.Context, q Query) ([]metrics.ManagerRollup, error) {
	started := time.Now()
	orgID, err := e.orgID()
	if err != nil {
		return nil, err
	}
	ok, err := e.Auth.UserHasPermission(ctx, orgID, q.ActorID, auth.PermReadTeam)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, auth.ForbiddenError{Permission: auth.PermReadTeam}
	}
	r, err := e.rangeFor(ctx, q)
	if err != nil {
		return nil, err
	}
	q.Subject = ""
	tasks, users, _, err := e.VisibleData(ctx, q)
	if err != nil {
		return nil, err
	}
	out := metrics.CalculateManagerRollups(users, tasks, r)
	e.Telemetry.ObserveComputation("managers", started)
	return out, nil
}

type IntegrityResult struct {
	Validation integrity.Validation `json:"validation"`
	Report     integrity.Report     `json:"report"`
	Readiness  integrity.Readiness  `json:"readiness"`
}

// Integrity validates the visible data without recording an audit entry.
func (e Engine) Integrity(ctx context.Context, q Query) (IntegrityResult, error) {
	started := time.Now()
	tasks, users, _, err := e.VisibleData(ctx, q)
	if err != nil {
		return IntegrityResult{}, err
	}
	v := integrity.ValidateAnalyticsData(tasks, users, e.localNow())
	e.Telemetry.ObserveComputation("integrity", started)
	return integrityResult(v), nil
}

// ValidateDocument checks a raw dataset before it is imported. Nothing is stored.
func (e Engine) ValidateDocument(raw []byte) IntegrityResult {
	return integrityResult(integrity.ValidateDocument(raw, nil, e.localNow()))
}

func integrityResult(v integrity.Validation) IntegrityResult {
	return IntegrityResult{
		Validation: v,
		Report:     integrity.GenerateDataIntegrityReport(v),
		Readiness:  integrity.AssessDecisionReadiness(v),
	}
}

type PresetRange struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Presets lists the named date ranges anchored at the current time in the org timezone.
func (e Engine) Presets() []PresetRange {
	ranges := metrics.GetDateRangePresets(e.localNow())
	out := make([]PresetRange, 0, len(ranges))
	for _, name := range metrics.PresetNames() {
		r := ranges[name]
		out = append(out, PresetRange{Name: name, Start: r.Start, End: r.End})
	}
	return out
}

// AuditLog lists stored metrics audit records, newest first. Actors without org-wide read
// only see the records they produced.
func (e Engine) AuditLog(ctx context.Context, actorID, userID string, limit int) ([]domain.AuditRecord, error) {
	orgID, err := e.orgID()
	if err != nil {
		return nil, err
	}
	if err := e.Auth.Require(ctx, orgID, actorID, auth.PermAuditRead); err != nil {
		return nil, err
	}
	all, err := e.Auth.UserHasPermission(ctx, orgID, actorID, auth.PermReadAll)
	if err != nil {
		return nil, err
	}
	if !all {
		userID = actorID
	}
	return e.Repo.ListAuditRecords(ctx, repo.AuditFilters{OrgID: orgID, UserID: userID, Limit: limit})
}

func (e Engine) AuditRecord(ctx context.Context, actorID, id string) (domain.AuditRecord, error) {
	orgID, err := e.orgID()
	if err != nil {
		return domain.AuditRecord{}, err
	}
	if err := e.Auth.Require(ctx, orgID, actorID, auth.PermAuditRead); err != nil {
		return domain.AuditRecord{}, err
	}
	rec, err := e.Repo.GetAuditRecord(ctx, orgID, id)
	if err != nil {
		return domain.AuditRecord{}, err
	}
	if rec.UserID != actorID {
		if err := e.Auth.Require(ctx, orgID, actorID, auth.PermReadAll); err != nil {
			return domain.AuditRecord{}, err
		}
	}
	return rec, nil
}

// Tasks lists visible tasks, optionally by status or project.
func (e Engine) Tasks(ctx context.Context, q Query, status, project string, limit int) ([]domain.Task, error) {
	if status != "" && !domain.Status(status).Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, status)
	}
	tasks, _, _, err := e.VisibleData(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if status != "" && string(t.Status) != status {
			continue
		}
		if project != "" && t.Project != project {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (e Engine) Users(ctx context.Context, q Query) ([]domain.User, error) {
	_, users, _, err := e.VisibleData(ctx, q)
	return users, err
}

// IsForbidden reports whether err is a permission failure.
func IsForbidden(err error) bool {
	var fe auth.ForbiddenError
	return errors.As(err, &fe)
}
