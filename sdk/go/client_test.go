package perflinesdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDashboardSendsRangeAndKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/analytics/dashboard", r.URL.Path)
		assert.Equal(t, "e1", r.URL.Query().Get("subject"))
		assert.Equal(t, "last30Days", r.URL.Query().Get("preset"))
		assert.Equal(t, "pl_secret", r.Header.Get("X-Api-Key"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"org_id":    "acme",
			"metrics":   map[string]any{"total_tasks": 4, "completion_rate": 50},
			"grade":     map[string]any{"grade": "B"},
			"readiness": map[string]any{"ready": false, "confidence": 40},
			"audit_id":  "a-1",
		})
	}))
	defer srv.Close()

	c := New(srv.URL + "/v0/")
	c.APIKey = "pl_secret"
	d, err := c.Dashboard(context.Background(), RangeQuery{Subject: "e1", Preset: "last30Days"})
	require.NoError(t, err)
	assert.Equal(t, 4, d.Metrics.TotalTasks)
	assert.Equal(t, 50, d.Metrics.CompletionRate)
	assert.Equal(t, "B", d.Grade.Grade)
	assert.False(t, d.Readiness.Ready)
	assert.Equal(t, "a-1", d.AuditID)
}

func TestErrorsCarryStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"forbidden"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	_, err := c.Team(context.Background(), RangeQuery{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "forbidden")
}

func TestEventsPageCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "42", r.URL.Query().Get("cursor"))
		_, _ = w.Write([]byte(`{"items":[{"id":41,"type":"metrics.computed"}],"next_cursor":"41"}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL).EventsPage(context.Background(), 10, "42")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "metrics.computed", page.Items[0].Type)
	assert.Equal(t, "41", page.NextCursor)
}
