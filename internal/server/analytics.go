package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"perfline/internal/engine"
	"perfline/internal/metrics"
)

// SubjectParams narrow a request to one user's data.
type SubjectParams struct {
	Subject string `query:"subject" doc:"Limit the view to this user's tasks"`
}

// RangeParams select the reporting window. Explicit bounds win over a preset.
type RangeParams struct {
	Preset string `query:"preset" doc:"Named range such as last30Days, or all"`
	Start  string `query:"start" doc:"Inclusive start date"`
	End    string `query:"end" doc:"Inclusive end date"`
}

func analyticsQuery(ctx context.Context, s SubjectParams, r RangeParams) (engine.Query, huma.StatusError) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return engine.Query{}, authErr
	}
	return engine.Query{ActorID: actorID, Subject: s.Subject, Preset: r.Preset, Start: r.Start, End: r.End}, nil
}

var analyticsErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusInternalServerError,
}

func registerAnalytics(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/analytics/dashboard",
		Summary:     "Metrics, grade, data integrity and decision readiness",
		Description: "Every call is recorded in the metrics audit log.",
		Errors:      analyticsErrors,
	}, func(ctx context.Context, input *struct {
		SubjectParams
		RangeParams
	}) (*struct {
		Body engine.Dashboard `json:"body"`
	}, error) {
		q, authErr := analyticsQuery(ctx, input.SubjectParams, input.RangeParams)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.Dashboard(ctx, q)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Dashboard `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "trend",
		Method:      http.MethodGet,
		Path:        "/analytics/trend",
		Summary:     "Daily activity over the trailing days",
		Errors:      analyticsErrors,
	}, func(ctx context.Context, input *struct {
		SubjectParams
		Days int `query:"days" minimum:"0" maximum:"366" doc:"Window length; defaults to the caller's settings"`
	}) (*struct {
		Body []metrics.TrendPoint `json:"body"`
	}, error) {
		q, authErr := analyticsQuery(ctx, input.SubjectParams, RangeParams{})
		if authErr != nil {
			return nil, authErr
		}
		points, err := e.Trend(ctx, q, input.Days)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []metrics.TrendPoint `json:"body"`
		}{Body: points}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "breakdown",
		Method:      http.MethodGet,
		Path:        "/analytics/breakdown/{dimension}",
		Summary:     "Status counts grouped by project, vertical or department",
		Errors:      analyticsErrors,
	}, func(ctx context.Context, input *struct {
		Dimension string `path:"dimension" enum:"project,vertical,department"`
		SubjectParams
		RangeParams
	}) (*struct {
		Body []metrics.GroupMetrics `json:"body"`
	}, error) {
		q, authErr := analyticsQuery(ctx, input.SubjectParams, input.RangeParams)
		if authErr != nil {
			return nil, authErr
		}
		groups, err := e.Breakdown(ctx, q, input.Dimension)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []metrics.GroupMetrics `json:"body"`
		}{Body: nonNilSlice(groups)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "team",
		Method:      http.MethodGet,
		Path:        "/analytics/team",
		Summary:     "Visible employees ranked by productivity",
		Errors:      analyticsErrors,
	}, func(ctx context.Context, input *struct {
		RangeParams
	}) (*struct {
		Body []metrics.EmployeeMetrics `json:"body"`
	}, error) {
		q, authErr := analyticsQuery(ctx, SubjectParams{}, input.RangeParams)
		if authErr != nil {
			return nil, authErr
		}
		team, err := e.Team(ctx, q)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []metrics.EmployeeMetrics `json:"body"`
		}{Body: nonNilSlice(team)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "managers",
		Method:      http.MethodGet,
		Path:        "/analytics/managers",
		Summary:     "Per-manager rollups of direct reports",
		Errors:      analyticsErrors,
	}, func(ctx context.Context, input *struct {
		RangeParams
	}) (*struct {
		Body []metrics.ManagerRollup `json:"body"`
	}, error) {
		q, authErr := analyticsQuery(ctx, SubjectParams{}, input.RangeParams)
		if authErr != nil {
			return nil, authErr
		}
		rollups, err := e.Managers(ctx, q)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []metrics.ManagerRollup `json:"body"`
		}{Body: nonNilSlice(rollups)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "integrity",
		Method:      http.MethodGet,
		Path:        "/analytics/integrity",
		Summary:     "Data integrity report and decision readiness",
		Errors:      analyticsErrors,
	}, func(ctx context.Context, input *struct {
		SubjectParams
	}) (*struct {
		Body engine.IntegrityResult `json:"body"`
	}, error) {
		q, authErr := analyticsQuery(ctx, input.SubjectParams, RangeParams{})
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Integrity(ctx, q)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.IntegrityResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "presets",
		Method:      http.MethodGet,
		Path:        "/analytics/presets",
		Summary:     "Named date ranges anchored at the current time",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []engine.PresetRange `json:"body"`
	}, error) {
		return &struct {
			Body []engine.PresetRange `json:"body"`
		}{Body: e.Presets()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grade",
		Method:      http.MethodGet,
		Path:        "/analytics/grades/{score}",
		Summary:     "Letter grade for a score",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Score float64 `path:"score" minimum:"0" maximum:"100"`
	}) (*struct {
		Body metrics.Grade `json:"body"`
	}, error) {
		return &struct {
			Body metrics.Grade `json:"body"`
		}{Body: metrics.GetPerformanceGrade(input.Score)}, nil
	})
}
