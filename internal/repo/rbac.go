package repo

import (
	"context"
	"database/sql"
	"errors"
)

func (r Repo) EnsureOrg(ctx context.Context, tx *sql.Tx, orgID, name, now string) error {
	if name == "" {
		name = orgID
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO organizations(id, name, created_at) VALUES (?,?,?)`, orgID, name, now)
	return err
}

func (r Repo) InsertRole(ctx context.Context, tx *sql.Tx, orgID, id, desc string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO roles(org_id, id, description) VALUES (?,?,?)
ON CONFLICT(org_id, id) DO UPDATE SET description=excluded.description`, orgID, id, nullable(desc))
	return err
}

func (r Repo) InsertPermission(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO permissions(id, description) VALUES (?,?)`, id, nullable(desc))
	return err
}

func (r Repo) AddRolePermission(ctx context.Context, tx *sql.Tx, orgID, roleID, permID string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO role_permissions(org_id, role_id, permission_id) VALUES (?,?,?)`, orgID, roleID, permID)
	return err
}

// ClearRolePermissions drops every grant of an org so they can be reseeded from config.
func (r Repo) ClearRolePermissions(ctx context.Context, tx *sql.Tx, orgID string) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM role_permissions WHERE org_id=?`, orgID)
	return err
}

// UserRole returns the role recorded for a user.
func (r Repo) UserRole(ctx context.Context, orgID, userID string) (string, error) {
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT role FROM users WHERE org_id=? AND id=?`, orgID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return role, err
}

func (r Repo) RolePermissions(ctx context.Context, orgID, roleID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT permission_id FROM role_permissions WHERE org_id=? AND role_id=? ORDER BY permission_id`, orgID, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
