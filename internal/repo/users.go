package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"perfline/internal/domain"
)

type UserFilters struct {
	OrgID     string
	Role      string
	ManagerID string
	IDs       []string
}

const userColumns = `id,COALESCE(name,''),COALESCE(email,''),role,COALESCE(department,''),COALESCE(manager_id,''),created_at,updated_at`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Department, &u.ManagerID, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// UpsertUsersTx inserts or updates users. created_at is kept from the first import.
func (r Repo) UpsertUsersTx(ctx context.Context, tx *sql.Tx, orgID string, users []domain.User, now string) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO users(org_id,id,name,email,role,department,manager_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(org_id,id) DO UPDATE SET name=excluded.name, email=excluded.email, role=excluded.role,
department=excluded.department, manager_id=excluded.manager_id, updated_at=excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, u := range users {
		if _, err := stmt.ExecContext(ctx, orgID, u.ID, nullable(u.Name), nullable(u.Email), string(u.Role),
			nullable(u.Department), nullable(u.ManagerID), now, now); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetUser(ctx context.Context, orgID, id string) (domain.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE org_id=? AND id=?`, orgID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) ListUsers(ctx context.Context, f UserFilters) ([]domain.User, error) {
	clauses := []string{"org_id=?"}
	args := []any{f.OrgID}
	if f.Role != "" {
		clauses = append(clauses, "role=?")
		args = append(args, f.Role)
	}
	if f.ManagerID != "" {
		clauses = append(clauses, "manager_id=?")
		args = append(args, f.ManagerID)
	}
	if f.IDs != nil {
		if len(f.IDs) == 0 {
			return []domain.User{}, nil
		}
		clauses = append(clauses, "id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+strings.Join(clauses, " AND ")+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// DirectReports lists the users whose manager is managerID.
func (r Repo) DirectReports(ctx context.Context, orgID, managerID string) ([]domain.User, error) {
	return r.ListUsers(ctx, UserFilters{OrgID: orgID, ManagerID: managerID})
}
