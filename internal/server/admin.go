package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"gopkg.in/yaml.v3"

	"perfline/internal/config"
	"perfline/internal/domain"
	"perfline/internal/engine"
	"perfline/internal/repo"
)

func registerDataset(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "import-dataset",
		Method:        http.MethodPost,
		Path:          "/dataset",
		Summary:       "Import tasks and users",
		Description:   "Accepts {\"tasks\": [...], \"users\": [...]} or a bare task array. Records are upserted by id.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		RawBody []byte `contentType:"application/json"`
	}) (*struct {
		Body engine.ImportResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(bytes.TrimSpace(input.RawBody)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		res, err := e.ImportJSON(ctx, actorID, bytes.NewReader(input.RawBody))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ImportResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-dataset",
		Method:      http.MethodPost,
		Path:        "/dataset/validate",
		Summary:     "Check a dataset without importing it",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		RawBody []byte `contentType:"application/json"`
	}) (*struct {
		Body engine.IntegrityResult `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body engine.IntegrityResult `json:"body"`
		}{Body: e.ValidateDocument(input.RawBody)}, nil
	})
}

func registerDirectory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List visible tasks",
		Errors:      analyticsErrors,
	}, func(ctx context.Context, input *struct {
		SubjectParams
		Status  string `query:"status" enum:"not_started,in_progress,completed,overdue,blocked"`
		Project string `query:"project"`
		Limit   int    `query:"limit" minimum:"0"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		q, authErr := analyticsQuery(ctx, input.SubjectParams, RangeParams{})
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := e.Tasks(ctx, q, input.Status, input.Project, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: paginatedTasks{Items: nonNilSlice(tasks)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List visible users",
		Errors:      analyticsErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body paginatedUsers `json:"body"`
	}, error) {
		q, authErr := analyticsQuery(ctx, SubjectParams{}, RangeParams{})
		if authErr != nil {
			return nil, authErr
		}
		users, err := e.Users(ctx, q)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedUsers `json:"body"`
		}{Body: paginatedUsers{Items: nonNilSlice(users)}}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Metrics audit log, newest first",
		Errors:      analyticsErrors,
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []AuditRecordResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		records, err := e.AuditLog(ctx, actorID, input.UserID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]AuditRecordResponse, 0, len(records))
		for _, rec := range records {
			out = append(out, auditRecordResponse(rec))
		}
		return &struct {
			Body []AuditRecordResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-audit",
		Method:      http.MethodGet,
		Path:        "/audit/{id}",
		Summary:     "One audit record",
		Errors:      append([]int{http.StatusNotFound}, analyticsErrors...),
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AuditRecordResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.AuditRecord(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuditRecordResponse `json:"body"`
		}{Body: auditRecordResponse(rec)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      analyticsErrors,
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"org,dataset,audit,user,api_key"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		f := repo.EventFilters{Type: input.Type, EntityKind: input.EntityKind, EntityID: input.EntityID, Limit: limit + 1}
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			f.Before = parsed
		}
		items, err := e.EventLog(ctx, actorID, f)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerSettings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-settings",
		Method:      http.MethodGet,
		Path:        "/settings",
		Summary:     "Caller's dashboard settings",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.UserSettings `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.GetSettings(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.UserSettings `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-settings",
		Method:      http.MethodPut,
		Path:        "/settings",
		Summary:     "Replace the caller's dashboard settings",
		Errors:      analyticsErrors,
	}, func(ctx context.Context, input *struct {
		Body SettingsRequest `json:"body"`
	}) (*struct {
		Body domain.UserSettings `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s := domain.UserSettings{
			DefaultPreset: input.Body.DefaultPreset,
			TrendDays:     input.Body.TrendDays,
			Theme:         input.Body.Theme,
			Notifications: true,
		}
		if input.Body.Notifications != nil {
			s.Notifications = *input.Body.Notifications
		}
		saved, err := e.PutSettings(ctx, actorID, s)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.UserSettings `json:"body"`
		}{Body: saved}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Issue an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        analyticsErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issued, err := e.CreateAPIKey(ctx, actorID, input.Body.ActorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		resp := apiKeyResponse(issued.APIKey)
		resp.Key = issued.Key
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
		Errors:      analyticsErrors,
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.ListAPIKeys(ctx, actorID, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/apikeys/{id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        append([]int{http.StatusNotFound}, analyticsErrors...),
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeAPIKey(ctx, actorID, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerConfig(api huma.API, e engine.Engine) {
	type configBody struct {
		YAML string `json:"yaml"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Org configuration as YAML",
		Errors:      analyticsErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body configBody `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		cfg, err := e.Repo.GetOrgConfig(ctx, e.Config().Org.ID)
		if err != nil {
			return nil, handleError(err)
		}
		for i := range cfg.Webhooks {
			if cfg.Webhooks[i].Secret != "" {
				cfg.Webhooks[i].Secret = "********"
			}
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body configBody `json:"body"`
		}{Body: configBody{YAML: string(out)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-config",
		Method:      http.MethodPut,
		Path:        "/config",
		Summary:     "Replace the org configuration",
		Description: "Role grants are reseeded from the new config.",
		Errors:      analyticsErrors,
	}, func(ctx context.Context, input *struct {
		Body configBody `json:"body"`
	}) (*struct {
		Body configBody `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var cfg config.Config
		if err := yaml.Unmarshal([]byte(input.Body.YAML), &cfg); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid config yaml", map[string]any{"error": err.Error()})
		}
		if err := e.UpdateConfig(ctx, actorID, &cfg); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body configBody `json:"body"`
		}{Body: input.Body}, nil
	})
}
