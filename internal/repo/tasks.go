package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"perfline/internal/domain"
)

type TaskFilters struct {
	OrgID  string
	Status string
	// AssignedTo restricts results to these assignees when non-nil. An empty non-nil slice
	// matches nothing.
	AssignedTo []string
	Project    string
	Limit      int
}

const taskColumns = `id,COALESCE(title,''),status,COALESCE(assigned_to,''),COALESCE(project,''),COALESCE(vertical,''),COALESCE(department,''),
COALESCE(assigned_date,''),COALESCE(created_at,''),COALESCE(updated_at,''),COALESCE(due_date,''),COALESCE(completed_date,''),rating,actual_hours`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var rating, hours sql.NullFloat64
	err := row.Scan(&t.ID, &t.Title, &t.Status, &t.AssignedTo, &t.Project, &t.Vertical, &t.Department,
		&t.AssignedDate, &t.CreatedAt, &t.UpdatedAt, &t.DueDate, &t.CompletedDate, &rating, &hours)
	if err != nil {
		return t, err
	}
	t.Rating = floatPtr(rating)
	t.ActualHours = floatPtr(hours)
	return t, nil
}

// UpsertTasksTx inserts or replaces tasks by id within an org.
func (r Repo) UpsertTasksTx(ctx context.Context, tx *sql.Tx, orgID string, tasks []domain.Task, importedAt string) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tasks(org_id,id,title,status,assigned_to,project,vertical,department,assigned_date,created_at,updated_at,due_date,completed_date,rating,actual_hours,imported_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(org_id,id) DO UPDATE SET title=excluded.title, status=excluded.status, assigned_to=excluded.assigned_to,
project=excluded.project, vertical=excluded.vertical, department=excluded.department, assigned_date=excluded.assigned_date,
created_at=excluded.created_at, updated_at=excluded.updated_at, due_date=excluded.due_date, completed_date=excluded.completed_date,
rating=excluded.rating, actual_hours=excluded.actual_hours, imported_at=excluded.imported_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, t := range tasks {
		if _, err := stmt.ExecContext(ctx, orgID, t.ID, nullable(t.Title), string(t.Status), nullable(t.AssignedTo),
			nullable(t.Project), nullable(t.Vertical), nullable(t.Department), nullable(t.AssignedDate), nullable(t.CreatedAt),
			nullable(t.UpdatedAt), nullable(t.DueDate), nullable(t.CompletedDate), nullableFloat(t.Rating), nullableFloat(t.ActualHours),
			importedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, orgID, id string) (domain.Task, error) {
	t, err := scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE org_id=? AND id=?`, orgID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

// ListTasks returns tasks in import order.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"org_id=?"}
	args := []any{f.OrgID}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Project != "" {
		clauses = append(clauses, "project=?")
		args = append(args, f.Project)
	}
	if f.AssignedTo != nil {
		if len(f.AssignedTo) == 0 {
			return []domain.Task{}, nil
		}
		clauses = append(clauses, "assigned_to IN ("+placeholders(len(f.AssignedTo))+")")
		for _, id := range f.AssignedTo {
			args = append(args, id)
		}
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY rowid`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context, orgID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE org_id=? GROUP BY status`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
