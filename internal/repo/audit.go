package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"perfline/internal/domain"
)

type AuditFilters struct {
	OrgID  string
	UserID string
	Limit  int
}

const auditColumns = `id, org_id, user_id, ts, version, ready, confidence, metrics_json, data_quality_json, readiness_json,
COALESCE(range_start,''), COALESCE(range_end,''), metrics_tasks, validated_tasks`

func scanAudit(row rowScanner) (domain.AuditRecord, error) {
	var a domain.AuditRecord
	err := row.Scan(&a.ID, &a.OrgID, &a.UserID, &a.TS, &a.Version, &a.Ready, &a.Confidence, &a.MetricsJSON, &a.QualityJSON, &a.ReadinessJSON,
		&a.RangeStart, &a.RangeEnd, &a.MetricsTasks, &a.ValidatedTasks)
	return a, err
}

func (r Repo) InsertAuditRecordTx(ctx context.Context, tx *sql.Tx, a domain.AuditRecord) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO audit_log(id, org_id, user_id, ts, version, ready, confidence, metrics_json, data_quality_json, readiness_json,
range_start, range_end, metrics_tasks, validated_tasks) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.OrgID, a.UserID, a.TS, a.Version, a.Ready, a.Confidence, a.MetricsJSON, a.QualityJSON, a.ReadinessJSON,
		nullable(a.RangeStart), nullable(a.RangeEnd), a.MetricsTasks, a.ValidatedTasks)
	return err
}

func (r Repo) GetAuditRecord(ctx context.Context, orgID, id string) (domain.AuditRecord, error) {
	a, err := scanAudit(r.DB.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_log WHERE org_id=? AND id=?`, orgID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

// ListAuditRecords returns the newest records first.
func (r Repo) ListAuditRecords(ctx context.Context, f AuditFilters) ([]domain.AuditRecord, error) {
	clauses := []string{"org_id=?"}
	args := []any{f.OrgID}
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+auditColumns+` FROM audit_log WHERE `+strings.Join(clauses, " AND ")+` ORDER BY ts DESC, rowid DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.AuditRecord{}
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
