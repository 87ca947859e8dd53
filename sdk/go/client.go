package perflinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Perfline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base path, e.g.
// http://localhost:8080/v0.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// RangeQuery selects whose data and which dates an analytics call covers. Empty fields fall
// back to the server defaults.
type RangeQuery struct {
	Subject string
	Preset  string
	Start   string
	End     string
}

func (q RangeQuery) values() url.Values {
	v := url.Values{}
	for k, s := range map[string]string{"subject": q.Subject, "preset": q.Preset, "start": q.Start, "end": q.End} {
		if s != "" {
			v.Set(k, s)
		}
	}
	return v
}

// Metrics is the aggregate view of a task set.
type Metrics struct {
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

type Grade struct {
	Grade string `json:"grade"`
	Color string `json:"color"`
	Label string `json:"label"`
}

// Report is the data-quality summary (partial).
type Report struct {
	Status   string   `json:"status"`
	Score    int      `json:"score"`
	IsValid  bool     `json:"is_valid"`
	Summary  string   `json:"summary"`
	Warnings []string `json:"warnings"`
	Errors   []string `json:"errors"`
}

type Readiness struct {
	Ready          bool     `json:"ready"`
	Confidence     int      `json:"confidence"`
	Reason         string   `json:"reason"`
	Recommendation string   `json:"recommendation,omitempty"`
	Blockers       []string `json:"blockers,omitempty"`
}

// Dashboard represents the analytics dashboard (partial).
type Dashboard struct {
	OrgID     string    `json:"org_id"`
	Subject   string    `json:"subject,omitempty"`
	Metrics   Metrics   `json:"metrics"`
	Grade     Grade     `json:"grade"`
	Report    Report    `json:"report"`
	Readiness Readiness `json:"readiness"`
	AuditID   string    `json:"audit_id"`
}

type Integrity struct {
	Report    Report    `json:"report"`
	Readiness Readiness `json:"readiness"`
}

type TrendPoint struct {
	Date       string `json:"date"`
	Completed  int    `json:"completed"`
	Created    int    `json:"created"`
	InProgress int    `json:"in_progress"`
}

// EmployeeMetrics is one row of the team view.
type EmployeeMetrics struct {
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name,omitempty"`
	Grade      Grade  `json:"grade"`
	Metrics
}

type ImportResult struct {
	Tasks int `json:"tasks"`
	Users int `json:"users"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	OrgID      string         `json:"org_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// ImportDataset uploads a {"tasks": [...], "users": [...]} document or a bare task array.
func (c *Client) ImportDataset(ctx context.Context, dataset any) (ImportResult, error) {
	var resp ImportResult
	err := c.do(ctx, http.MethodPost, "dataset", dataset, &resp)
	return resp, err
}

// Dashboard computes metrics for the query and records an audit entry server-side.
func (c *Client) Dashboard(ctx context.Context, q RangeQuery) (Dashboard, error) {
	var resp Dashboard
	err := c.do(ctx, http.MethodGet, withQuery("analytics/dashboard", q.values()), nil, &resp)
	return resp, err
}

// Trend returns daily counts over the last days days; 0 uses the caller's settings.
func (c *Client) Trend(ctx context.Context, subject string, days int) ([]TrendPoint, error) {
	v := RangeQuery{Subject: subject}.values()
	if days > 0 {
		v.Set("days", fmt.Sprint(days))
	}
	var resp []TrendPoint
	err := c.do(ctx, http.MethodGet, withQuery("analytics/trend", v), nil, &resp)
	return resp, err
}

// Team returns per-employee metrics visible to the caller.
func (c *Client) Team(ctx context.Context, q RangeQuery) ([]EmployeeMetrics, error) {
	var resp []EmployeeMetrics
	err := c.do(ctx, http.MethodGet, withQuery("analytics/team", q.values()), nil, &resp)
	return resp, err
}

// Integrity returns the data-quality report and decision readiness.
func (c *Client) Integrity(ctx context.Context, subject string) (Integrity, error) {
	var resp Integrity
	err := c.do(ctx, http.MethodGet, withQuery("analytics/integrity", RangeQuery{Subject: subject}.values()), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	v := url.Values{}
	if limit > 0 {
		v.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		v.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", v), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func withQuery(endpoint string, v url.Values) string {
	if len(v) == 0 {
		return endpoint
	}
	return endpoint + "?" + v.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
