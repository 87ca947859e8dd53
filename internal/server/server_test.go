package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"perfline/internal/config"
	"perfline/internal/db"
	"perfline/internal/engine"
	"perfline/internal/migrate"
	"perfline/internal/telemetry"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default("acme")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	e.Telemetry = telemetry.New()
	if _, err := e.Bootstrap(context.Background(), "Acme", "admin"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowActorHeader: true, DevLogin: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

const dataset = `{
  "users": [
    {"id": "mgr", "name": "Mia", "role": "manager", "department": "eng"},
    {"id": "e1", "name": "Eli", "role": "employee", "department": "eng", "manager_id": "mgr"},
    {"id": "e2", "name": "Ola", "role": "employee", "department": "ops"}
  ],
  "tasks": [
    {"id": "t1", "status": "completed", "assigned_to": "e1", "project": "apollo", "assigned_date": "2024-06-01", "due_date": "2024-06-10", "completed_date": "2024-06-05", "rating": 4},
    {"id": "t2", "status": "in_progress", "assigned_to": "e1", "project": "apollo", "assigned_date": "2024-06-03", "due_date": "2024-06-30"},
    {"id": "t3", "status": "blocked", "assigned_to": "e2", "assigned_date": "2024-06-12", "due_date": "2024-06-20"}
  ]
}`

func importDataset(t *testing.T, srv *testServer) {
	t.Helper()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/dataset", dataset, as("admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import status %d: %s", res.StatusCode, string(body))
	}
}

func TestHealthIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/analytics/dashboard", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d: %s", res.StatusCode, string(body))
	}
}

func TestDashboardOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	importDataset(t, srv)

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/analytics/dashboard?preset=all", nil, as("admin"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status %d: %s", res.StatusCode, string(body))
	}
	var d engine.Dashboard
	if err := json.Unmarshal(body, &d); err != nil {
		t.Fatalf("unmarshal dashboard: %v", err)
	}
	if d.Metrics.TotalTasks != 3 || d.Metrics.CompletedTasks != 1 {
		t.Fatalf("unexpected metrics %+v", d.Metrics)
	}
	if d.AuditID == "" {
		t.Fatalf("missing audit id")
	}

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/audit/"+d.AuditID, nil, as("admin"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("audit status %d: %s", res.StatusCode, string(body))
	}
	var rec AuditRecordResponse
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("unmarshal audit: %v", err)
	}
	if rec.Metrics["total_tasks"] != float64(3) {
		t.Fatalf("unexpected audit metrics %+v", rec.Metrics)
	}
}

func TestEmployeeCannotReadPeer(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	importDataset(t, srv)

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/analytics/dashboard?subject=e2", nil, as("e1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "forbidden" {
		t.Fatalf("unexpected error code %q", envelope.Error.Code)
	}

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks", nil, as("e1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("tasks status %d: %s", res.StatusCode, string(body))
	}
	var tasks paginatedTasks
	if err := json.Unmarshal(body, &tasks); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(tasks.Items) != 2 {
		t.Fatalf("employee should see their 2 tasks, got %d", len(tasks.Items))
	}
}

func TestImportErrors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/dataset", `{"tasks": "nope"}`, as("admin"))
	if res.StatusCode != http.StatusBadRequest || !strings.Contains(string(body), "not_a_sequence") {
		t.Fatalf("expected not_a_sequence, got %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/dataset", `[{"id": "x", "status": "finished"}]`, as("admin"))
	if res.StatusCode != http.StatusBadRequest || !strings.Contains(string(body), "schema_invalid") {
		t.Fatalf("expected schema_invalid, got %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/dataset", dataset, as("nobody"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown actor, got %d: %s", res.StatusCode, string(body))
	}
}

func TestBreakdownAndGrade(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	importDataset(t, srv)

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/analytics/breakdown/project?preset=all", nil, as("admin"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("breakdown status %d: %s", res.StatusCode, string(body))
	}
	var groups []map[string]any
	if err := json.Unmarshal(body, &groups); err != nil {
		t.Fatalf("unmarshal groups: %v", err)
	}
	if len(groups) != 2 || groups[0]["key"] != "apollo" {
		t.Fatalf("unexpected groups %v", groups)
	}

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/analytics/breakdown/planet", nil, as("admin"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown dimension, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/analytics/grades/85", nil, as("e1"))
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), `"grade":"A"`) {
		t.Fatalf("unexpected grade response %d: %s", res.StatusCode, string(body))
	}
}

func TestDevLoginAndAPIKey(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	importDataset(t, srv)

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "mgr"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(body))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(body, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(body))
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(body, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ActorID != "mgr" || me.Role != "manager" || me.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", me)
	}

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{"actor_id": "e1", "name": "ci"}, as("admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(body))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(body, &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), `"actor_id":"e1"`) {
		t.Fatalf("api key auth failed %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer garbage"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d: %s", res.StatusCode, string(body))
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	importDataset(t, srv)

	res, body := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/settings", map[string]any{"trend_days": 7, "theme": "dark"}, as("e1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put settings status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/analytics/trend", nil, as("e1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("trend status %d: %s", res.StatusCode, string(body))
	}
	var points []map[string]any
	if err := json.Unmarshal(body, &points); err != nil {
		t.Fatalf("unmarshal trend: %v", err)
	}
	if len(points) != 7 {
		t.Fatalf("expected 7 trend points, got %d", len(points))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	importDataset(t, srv)

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	if !strings.Contains(string(body), `perfline_imported_records_total{entity="tasks"} 3`) {
		t.Fatalf("import counter missing from metrics output")
	}
}
