package integrity

import (
	"fmt"
	"math"
	"time"

	"perfline/internal/metrics"
)

// Readiness is the verdict on whether metrics are sound enough to inform personnel decisions.
type Readiness struct {
	Ready          bool     `json:"ready"`
	Confidence     int      `json:"confidence"`
	Reason         string   `json:"reason"`
	Recommendation string   `json:"recommendation,omitempty"`
	Blockers       []string `json:"blockers,omitempty"`
}

const (
	minSampleSize       = 10
	smallSampleSize     = 30
	mediumSampleSize    = 50
	minCompletionRate   = 30
	readinessConfidence = 75
)

// AssessDecisionReadiness applies the hard gates (integrity errors, sample size, quality
// score) and otherwise discounts the quality score by sample size and completion rate.
func AssessDecisionReadiness(v Validation) Readiness {
	s := v.Stats
	if len(v.Errors) > 0 {
		return Readiness{
			Confidence:     0,
			Reason:         "Data integrity errors must be resolved before metrics can be trusted",
			Recommendation: "Fix the listed errors and recompute",
			Blockers:       append([]string(nil), v.Errors...),
		}
	}
	if s.TotalTasks < minSampleSize {
		return Readiness{
			Confidence:     s.TotalTasks * 10,
			Reason:         fmt.Sprintf("Insufficient sample size: %d tasks, at least %d required", s.TotalTasks, minSampleSize),
			Recommendation: "Collect more task history before drawing conclusions",
		}
	}
	if s.DataQualityScore < poorThreshold {
		return Readiness{
			Confidence:     s.DataQualityScore,
			Reason:         fmt.Sprintf("Data quality score %d is below %d", s.DataQualityScore, poorThreshold),
			Recommendation: "Address the data quality recommendations first",
		}
	}

	confidence := float64(s.DataQualityScore)
	if s.TotalTasks < smallSampleSize {
		confidence *= 0.8
	} else if s.TotalTasks < mediumSampleSize {
		confidence *= 0.9
	}
	if float64(s.CompletedTasks)/float64(s.TotalTasks)*100 < minCompletionRate {
		confidence *= 0.7
	}
	r := Readiness{Confidence: int(math.Floor(confidence + 0.5))}
	r.Ready = r.Confidence >= readinessConfidence
	if r.Ready {
		r.Reason = "Data is sufficient for decision-making"
	} else {
		r.Reason = fmt.Sprintf("Confidence %d%% is below the %d%% threshold", r.Confidence, readinessConfidence)
		r.Recommendation = "Use these metrics as directional only and gather more complete data"
	}
	return r
}

const AuditVersion = "1.0"

// DataQuality is the subset of validation results kept alongside computed metrics.
type DataQuality struct {
	Score                int  `json:"score"`
	IsValid              bool `json:"is_valid"`
	TotalTasks           int  `json:"total_tasks"`
	MissingDueDates      int  `json:"missing_due_dates"`
	MissingRatings       int  `json:"missing_ratings"`
	FutureCompletedDates int  `json:"future_completed_dates"`
	Warnings             int  `json:"warnings"`
	Errors               int  `json:"errors"`
}

// AuditEntry records one metrics computation together with the data it was trusted on.
type AuditEntry struct {
	UserID            string         `json:"user_id"`
	Timestamp         time.Time      `json:"timestamp"`
	Version           string         `json:"version"`
	Metrics           metrics.Result `json:"metrics"`
	DataQuality       DataQuality    `json:"data_quality"`
	DecisionReadiness Readiness      `json:"decision_readiness"`
}

func CreateMetricsAuditLog(userID string, m metrics.Result, v Validation, now time.Time) AuditEntry {
	return AuditEntry{
		UserID:    userID,
		Timestamp: now.UTC(),
		Version:   AuditVersion,
		Metrics:   m,
		DataQuality: DataQuality{
			Score:                v.Stats.DataQualityScore,
			IsValid:              v.IsValid,
			TotalTasks:           v.Stats.TotalTasks,
			MissingDueDates:      v.Stats.MissingDueDates,
			MissingRatings:       v.Stats.MissingRatings,
			FutureCompletedDates: v.Stats.FutureCompletedDates,
			Warnings:             len(v.Warnings),
			Errors:               len(v.Errors),
		},
		DecisionReadiness: AssessDecisionReadiness(v),
	}
}
