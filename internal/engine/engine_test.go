package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"perfline/internal/config"
	"perfline/internal/db"
	"perfline/internal/domain"
	"perfline/internal/engine"
	"perfline/internal/engine/auth"
	"perfline/internal/events"
	"perfline/internal/ingest"
	"perfline/internal/migrate"
	"perfline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("org-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.Bootstrap(ctx, "Acme", "admin"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func rating(v float64) *float64 { return &v }

// seed imports a manager with two reports, an unmanaged employee and one task each.
func seed(t *testing.T, env testEnv) {
	t.Helper()
	ds := ingest.Dataset{
		Users: []domain.User{
			{ID: "mgr", Name: "Mia", Role: domain.RoleManager, Department: "eng"},
			{ID: "e1", Name: "Eli", Role: domain.RoleEmployee, Department: "eng", ManagerID: "mgr"},
			{ID: "e2", Name: "Eve", Role: domain.RoleEmployee, Department: "eng", ManagerID: "mgr"},
			{ID: "e3", Name: "Ola", Role: domain.RoleEmployee, Department: "ops"},
		},
		Tasks: []domain.Task{
			{ID: "t1", Status: domain.StatusCompleted, AssignedTo: "e1", Project: "apollo", AssignedDate: "2024-06-01", DueDate: "2024-06-10", CompletedDate: "2024-06-05", Rating: rating(4)},
			{ID: "t2", Status: domain.StatusCompleted, AssignedTo: "e1", Project: "apollo", AssignedDate: "2024-06-02", DueDate: "2024-06-04", CompletedDate: "2024-06-06", Rating: rating(5)},
			{ID: "t3", Status: domain.StatusInProgress, AssignedTo: "e2", Project: "gemini", AssignedDate: "2024-06-10", DueDate: "2024-06-30"},
			{ID: "t4", Status: domain.StatusBlocked, AssignedTo: "e3", AssignedDate: "2024-06-12", DueDate: "2024-06-20"},
		},
	}
	res, err := env.Engine.ImportDataset(env.Ctx, "admin", ds)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Tasks != 4 || res.Users != 4 {
		t.Fatalf("unexpected import result %+v", res)
	}
}

func taskIDs(tasks []domain.Task) string {
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	return strings.Join(ids, ",")
}

func TestBootstrapGrantsAdmin(t *testing.T) {
	env := newTestEnv(t)
	id, err := env.Engine.WhoAmI(env.Ctx, "admin")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if id.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %q", id.Role)
	}
	found := false
	for _, p := range id.Permissions {
		if p == auth.PermConfigWrite {
			found = true
		}
	}
	if !found {
		t.Fatalf("admin lacks %s: %v", auth.PermConfigWrite, id.Permissions)
	}
	// a second bootstrap keeps the org and its admin
	if _, err := env.Engine.Bootstrap(env.Ctx, "Acme", "admin"); err != nil {
		t.Fatalf("re-bootstrap: %v", err)
	}
}

func TestImportRequiresPermission(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	_, err := env.Engine.ImportTasks(env.Ctx, "e1", []domain.Task{{ID: "x", Status: domain.StatusNotStarted}})
	if !engine.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestImportRejectsBadRecords(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ImportTasks(env.Ctx, "admin", []domain.Task{{ID: "a", Status: "done"}})
	if !errors.Is(err, engine.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for unknown status, got %v", err)
	}
	_, err = env.Engine.ImportTasks(env.Ctx, "admin", []domain.Task{
		{ID: "a", Status: domain.StatusCompleted},
		{ID: "a", Status: domain.StatusBlocked},
	})
	if !errors.Is(err, engine.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for duplicate id, got %v", err)
	}
	_, err = env.Engine.ImportJSON(env.Ctx, "admin", strings.NewReader(`{"tasks": 3}`))
	if !errors.Is(err, ingest.ErrNotSequence) || !errors.Is(err, engine.ErrInvalidArgument) {
		t.Fatalf("expected not-sequence error, got %v", err)
	}
}

func TestImportJSONReplacesTasks(t *testing.T) {
	env := newTestEnv(t)
	doc := `[{"id":"t1","status":"in_progress","assigned_to":"admin"}]`
	if _, err := env.Engine.ImportJSON(env.Ctx, "admin", strings.NewReader(doc)); err != nil {
		t.Fatalf("import: %v", err)
	}
	doc = `[{"id":"t1","status":"completed","assigned_to":"admin","completed_date":"2024-06-01"}]`
	if _, err := env.Engine.ImportJSON(env.Ctx, "admin", strings.NewReader(doc)); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	tasks, err := env.Engine.Tasks(env.Ctx, engine.Query{ActorID: "admin"}, "", "", 0)
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Status != domain.StatusCompleted {
		t.Fatalf("expected one completed task, got %+v", tasks)
	}
}

func TestScopeByRole(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	cases := []struct {
		actor string
		want  string
	}{
		{"admin", "t1,t2,t3,t4"},
		{"mgr", "t1,t2,t3"},
		{"e1", "t1,t2"},
		{"e3", "t4"},
	}
	for _, tc := range cases {
		tasks, err := env.Engine.Tasks(env.Ctx, engine.Query{ActorID: tc.actor}, "", "", 0)
		if err != nil {
			t.Fatalf("%s: %v", tc.actor, err)
		}
		if got := taskIDs(tasks); got != tc.want {
			t.Fatalf("%s sees %s, want %s", tc.actor, got, tc.want)
		}
	}
}

func TestSubjectOutsideScopeIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	if _, err := env.Engine.Dashboard(env.Ctx, engine.Query{ActorID: "mgr", Subject: "e3"}); !engine.IsForbidden(err) {
		t.Fatalf("manager reading outside team: expected forbidden, got %v", err)
	}
	if _, err := env.Engine.Dashboard(env.Ctx, engine.Query{ActorID: "e1", Subject: "e2"}); !engine.IsForbidden(err) {
		t.Fatalf("employee reading a peer: expected forbidden, got %v", err)
	}
	if _, err := env.Engine.Dashboard(env.Ctx, engine.Query{ActorID: "stranger"}); !engine.IsForbidden(err) {
		t.Fatalf("unknown actor: expected forbidden, got %v", err)
	}
	d, err := env.Engine.Dashboard(env.Ctx, engine.Query{ActorID: "mgr", Subject: "e1"})
	if err != nil {
		t.Fatalf("manager reading a report: %v", err)
	}
	if d.Metrics.TotalTasks != 2 || d.Metrics.CompletedTasks != 2 {
		t.Fatalf("unexpected subject metrics %+v", d.Metrics)
	}
}

func TestDashboardRecordsAudit(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	d, err := env.Engine.Dashboard(env.Ctx, engine.Query{ActorID: "admin"})
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.Metrics.TotalTasks != 4 || d.Metrics.CompletionRate != 50 {
		t.Fatalf("unexpected metrics %+v", d.Metrics)
	}
	if d.Grade.Grade == "" {
		t.Fatalf("missing grade")
	}
	if d.Readiness.Ready {
		t.Fatalf("four tasks should not be decision ready")
	}
	if d.Metrics.QualityScore != 90 || !d.Metrics.HasQualityData {
		t.Fatalf("expected quality 90, got %d", d.Metrics.QualityScore)
	}

	records, err := env.Engine.AuditLog(env.Ctx, "admin", "", 10)
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}
	if len(records) != 1 || records[0].ID != d.AuditID || records[0].UserID != "admin" {
		t.Fatalf("unexpected audit records %+v", records)
	}
	if !strings.Contains(records[0].MetricsJSON, `"total_tasks":4`) {
		t.Fatalf("audit metrics not stored: %s", records[0].MetricsJSON)
	}
	if records[0].MetricsTasks != 4 || records[0].ValidatedTasks != 4 || records[0].RangeStart != "" {
		t.Fatalf("unexpected audit scope %+v", records[0])
	}

	evts, err := env.Engine.EventLog(env.Ctx, "admin", repo.EventFilters{Type: events.TypeReadinessBlocked})
	if err != nil {
		t.Fatalf("event log: %v", err)
	}
	if len(evts) != 1 || evts[0].EntityID != d.AuditID {
		t.Fatalf("expected one readiness.blocked event, got %+v", evts)
	}

	if _, err := env.Engine.AuditLog(env.Ctx, "e1", "", 10); !engine.IsForbidden(err) {
		t.Fatalf("employee audit read: expected forbidden, got %v", err)
	}
}

func TestRangeResolution(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	d, err := env.Engine.Dashboard(env.Ctx, engine.Query{ActorID: "admin", Start: "2024-06-10", End: "2024-06-12"})
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.Metrics.TotalTasks != 2 {
		t.Fatalf("expected the inclusive range to hold t3 and t4, got %d", d.Metrics.TotalTasks)
	}
	// validation still covers the whole visible set
	if d.Validation.Stats.TotalTasks != 4 {
		t.Fatalf("expected validation over 4 tasks, got %d", d.Validation.Stats.TotalTasks)
	}
	records, err := env.Engine.AuditLog(env.Ctx, "admin", "", 1)
	if err != nil || len(records) != 1 {
		t.Fatalf("audit log: %+v %v", records, err)
	}
	rec := records[0]
	if rec.MetricsTasks != 2 || rec.ValidatedTasks != 4 {
		t.Fatalf("audit should keep both task counts, got metrics=%d validated=%d", rec.MetricsTasks, rec.ValidatedTasks)
	}
	if !strings.HasPrefix(rec.RangeStart, "2024-06-10T00:00:00") || !strings.HasPrefix(rec.RangeEnd, "2024-06-12T23:59:59") {
		t.Fatalf("unexpected audit range %q..%q", rec.RangeStart, rec.RangeEnd)
	}
	if _, err := env.Engine.ResolveRange(engine.Query{Preset: "lastDecade"}); !errors.Is(err, engine.ErrInvalidArgument) {
		t.Fatalf("unknown preset: expected invalid argument, got %v", err)
	}
	if _, err := env.Engine.ResolveRange(engine.Query{Start: "2024-06-10", End: "2024-06-01"}); !errors.Is(err, engine.ErrInvalidArgument) {
		t.Fatalf("reversed range: expected invalid argument, got %v", err)
	}
	r, err := env.Engine.ResolveRange(engine.Query{Preset: "last7Days"})
	if err != nil {
		t.Fatalf("preset: %v", err)
	}
	if r.Start.Format("2006-01-02") != "2024-06-09" {
		t.Fatalf("unexpected preset start %s", r.Start)
	}
}

func TestBreakdownTeamAndManagers(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	groups, err := env.Engine.Breakdown(env.Ctx, engine.Query{ActorID: "admin"}, engine.DimensionProject)
	if err != nil {
		t.Fatalf("breakdown: %v", err)
	}
	if len(groups) != 3 || groups[0].Key != "apollo" || !groups[2].Unassigned {
		t.Fatalf("unexpected project groups %+v", groups)
	}
	groups, err = env.Engine.Breakdown(env.Ctx, engine.Query{ActorID: "admin"}, engine.DimensionDepartment)
	if err != nil {
		t.Fatalf("department breakdown: %v", err)
	}
	if len(groups) != 2 || groups[0].Key != "eng" || groups[0].Total != 3 {
		t.Fatalf("unexpected department groups %+v", groups)
	}
	if _, err := env.Engine.Breakdown(env.Ctx, engine.Query{ActorID: "admin"}, "planet"); !errors.Is(err, engine.ErrInvalidArgument) {
		t.Fatalf("unknown dimension: expected invalid argument, got %v", err)
	}

	team, err := env.Engine.Team(env.Ctx, engine.Query{ActorID: "mgr"})
	if err != nil {
		t.Fatalf("team: %v", err)
	}
	if len(team) != 2 || team[0].EmployeeID != "e1" {
		t.Fatalf("unexpected team %+v", team)
	}

	rollups, err := env.Engine.Managers(env.Ctx, engine.Query{ActorID: "admin"})
	if err != nil {
		t.Fatalf("managers: %v", err)
	}
	if len(rollups) != 1 || rollups[0].ManagerID != "mgr" || rollups[0].TeamSize != 2 {
		t.Fatalf("unexpected rollups %+v", rollups)
	}
	if _, err := env.Engine.Managers(env.Ctx, engine.Query{ActorID: "e1"}); !engine.IsForbidden(err) {
		t.Fatalf("employee managers view: expected forbidden, got %v", err)
	}
}

func TestSettingsDriveTrendWindow(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	s, err := env.Engine.GetSettings(env.Ctx, "e1")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if s.TrendDays != 30 || s.DefaultPreset != "last30Days" {
		t.Fatalf("unexpected defaults %+v", s)
	}
	if _, err := env.Engine.PutSettings(env.Ctx, "e1", domain.UserSettings{TrendDays: 7, DefaultPreset: "last7Days"}); err != nil {
		t.Fatalf("put settings: %v", err)
	}
	points, err := env.Engine.Trend(env.Ctx, engine.Query{ActorID: "e1"}, 0)
	if err != nil {
		t.Fatalf("trend: %v", err)
	}
	if len(points) != 7 || points[6].Date != "2024-06-15" {
		t.Fatalf("unexpected trend %+v", points)
	}
	if _, err := env.Engine.PutSettings(env.Ctx, "e1", domain.UserSettings{DefaultPreset: "someday"}); !errors.Is(err, engine.ErrInvalidArgument) {
		t.Fatalf("bad preset: expected invalid argument, got %v", err)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	issued, err := env.Engine.CreateAPIKey(env.Ctx, "admin", "e1", "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if !strings.HasPrefix(issued.Key, "pl_") {
		t.Fatalf("unexpected key format %q", issued.Key)
	}
	key, err := env.Engine.Authenticate(env.Ctx, issued.Key)
	if err != nil || key.ActorID != "e1" {
		t.Fatalf("authenticate: %+v %v", key, err)
	}
	if _, err := env.Engine.CreateAPIKey(env.Ctx, "e1", "e1", ""); !engine.IsForbidden(err) {
		t.Fatalf("employee issuing keys: expected forbidden, got %v", err)
	}
	if err := env.Engine.RevokeAPIKey(env.Ctx, "admin", issued.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, issued.Key); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("revoked key still authenticates: %v", err)
	}
	if err := env.Engine.RevokeAPIKey(env.Ctx, "admin", issued.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second revoke: expected not found, got %v", err)
	}
}

func TestUpdateConfig(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)
	cfg := config.Default("org-1")
	cfg.Analytics.TrendDays = 14
	if err := env.Engine.UpdateConfig(env.Ctx, "e1", cfg); !engine.IsForbidden(err) {
		t.Fatalf("employee config write: expected forbidden, got %v", err)
	}
	if err := env.Engine.UpdateConfig(env.Ctx, "admin", cfg); err != nil {
		t.Fatalf("update config: %v", err)
	}
	if env.Engine.Config().TrendDays() != 14 {
		t.Fatalf("engine config not refreshed")
	}
	stored, err := env.Engine.Repo.GetOrgConfig(env.Ctx, "org-1")
	if err != nil || stored.Analytics.TrendDays != 14 {
		t.Fatalf("stored config: %+v %v", stored, err)
	}
}

func TestValidateDocument(t *testing.T) {
	env := newTestEnv(t)
	res := env.Engine.ValidateDocument([]byte(`{"users": []}`))
	if res.Validation.IsValid || res.Readiness.Ready {
		t.Fatalf("document without tasks should be invalid: %+v", res)
	}
	res = env.Engine.ValidateDocument([]byte(`[{"id":"a","status":"completed","completed_date":"2030-01-01"}]`))
	if res.Validation.IsValid || res.Validation.Stats.FutureCompletedDates != 1 {
		t.Fatalf("expected future date error: %+v", res.Validation)
	}
}

func TestConfigUpdateVisibleToCopies(t *testing.T) {
	env := newTestEnv(t)
	reader := env.Engine
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = reader.Presets()
			_ = reader.Config().TrendDays()
		}
	}()
	for i := 1; i <= 5; i++ {
		cfg := config.Default("org-1")
		cfg.Analytics.TrendDays = i
		if err := env.Engine.UpdateConfig(env.Ctx, "admin", cfg); err != nil {
			t.Fatalf("update config %d: %v", i, err)
		}
	}
	<-done
	if got := reader.Config().TrendDays(); got != 5 {
		t.Fatalf("copied engine sees trend days %d, want 5", got)
	}
}

func TestDateOnlyValuesUseOrgTimezone(t *testing.T) {
	cases := []struct {
		name string
		tz   string
		now  time.Time
		// today in the org timezone, which is a different UTC calendar day
		today    string
		tomorrow string
	}{
		{name: "west of UTC", tz: "America/New_York", now: time.Date(2024, 6, 15, 2, 0, 0, 0, time.UTC), today: "2024-06-14", tomorrow: "2024-06-15"},
		{name: "east of UTC", tz: "Asia/Tokyo", now: time.Date(2024, 6, 15, 20, 0, 0, 0, time.UTC), today: "2024-06-16", tomorrow: "2024-06-17"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			cfg := config.Default("org-1")
			cfg.Analytics.Timezone = tc.tz
			if err := env.Engine.UpdateConfig(env.Ctx, "admin", cfg); err != nil {
				t.Fatalf("update config: %v", err)
			}
			now := tc.now
			env.Engine.Now = func() time.Time { return now }
			ds := ingest.Dataset{
				Users: []domain.User{{ID: "e1", Name: "Eli", Role: domain.RoleEmployee}},
				Tasks: []domain.Task{
					{ID: "done-today", Status: domain.StatusCompleted, AssignedTo: "e1", AssignedDate: tc.today, DueDate: tc.tomorrow, CompletedDate: tc.today, Rating: rating(4)},
					{ID: "done-tomorrow", Status: domain.StatusCompleted, AssignedTo: "e1", AssignedDate: tc.today, DueDate: tc.tomorrow, CompletedDate: tc.tomorrow, Rating: rating(4)},
				},
			}
			if _, err := env.Engine.ImportDataset(env.Ctx, "admin", ds); err != nil {
				t.Fatalf("import: %v", err)
			}

			for _, preset := range []string{"today", "last7Days"} {
				d, err := env.Engine.Dashboard(env.Ctx, engine.Query{ActorID: "admin", Preset: preset})
				if err != nil {
					t.Fatalf("%s dashboard: %v", preset, err)
				}
				if d.Metrics.TotalTasks != 2 {
					t.Fatalf("%s: expected both tasks assigned today in range, got %d", preset, d.Metrics.TotalTasks)
				}
				if d.Validation.Stats.FutureCompletedDates != 1 {
					t.Fatalf("%s: only the task completed tomorrow is in the future, got %d", preset, d.Validation.Stats.FutureCompletedDates)
				}
			}

			points, err := env.Engine.Trend(env.Ctx, engine.Query{ActorID: "admin"}, 2)
			if err != nil {
				t.Fatalf("trend: %v", err)
			}
			last := points[len(points)-1]
			if last.Date != tc.today || last.Created != 2 || last.Completed != 1 {
				t.Fatalf("unexpected trend point for today %+v", last)
			}
			if points[0].Created != 0 {
				t.Fatalf("nothing was created yesterday, got %+v", points[0])
			}
		})
	}
}
