package server

import (
	"encoding/json"

	"perfline/internal/domain"
)

// Request payloads

type SettingsRequest struct {
	DefaultPreset string `json:"default_preset,omitempty"`
	TrendDays     int    `json:"trend_days,omitempty" minimum:"0" maximum:"366"`
	Theme         string `json:"theme,omitempty" enum:"light,dark,system"`
	Notifications *bool  `json:"notifications,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name    string `json:"name,omitempty"`
	ActorID string `json:"actor_id,omitempty" doc:"User the key authenticates as; defaults to the caller"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Responses

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	OrgID       string   `json:"org_id"`
	Name        string   `json:"name,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	OrgID      string         `json:"org_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type AuditRecordResponse struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id"`
	TS                string         `json:"ts" format:"date-time"`
	Version           string         `json:"version"`
	Ready             bool           `json:"ready"`
	Confidence        int            `json:"confidence"`
	RangeStart        string         `json:"range_start,omitempty"`
	RangeEnd          string         `json:"range_end,omitempty"`
	MetricsTasks      int            `json:"metrics_tasks" doc:"Tasks inside the range the metrics were computed over"`
	ValidatedTasks    int            `json:"validated_tasks" doc:"Visible tasks data quality and readiness were computed over"`
	Metrics           map[string]any `json:"metrics"`
	DataQuality       map[string]any `json:"data_quality"`
	DecisionReadiness map[string]any `json:"decision_readiness"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	Key       string `json:"key,omitempty" doc:"Plaintext key, returned once at creation"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedTasks struct {
	Items []domain.Task `json:"items"`
}

type paginatedUsers struct {
	Items []domain.User `json:"items"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		OrgID:      e.OrgID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func auditRecordResponse(a domain.AuditRecord) AuditRecordResponse {
	return AuditRecordResponse{
		ID:                a.ID,
		UserID:            a.UserID,
		TS:                a.TS,
		Version:           a.Version,
		Ready:             a.Ready,
		Confidence:        a.Confidence,
		RangeStart:        a.RangeStart,
		RangeEnd:          a.RangeEnd,
		MetricsTasks:      a.MetricsTasks,
		ValidatedTasks:    a.ValidatedTasks,
		Metrics:           decodeJSONMap(a.MetricsJSON),
		DataQuality:       decodeJSONMap(a.QualityJSON),
		DecisionReadiness: decodeJSONMap(a.ReadinessJSON),
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
