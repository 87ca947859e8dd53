package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Permissions understood by the engine.
const (
	PermReadAll       = "analytics.read.all"
	PermReadTeam      = "analytics.read.team"
	PermReadSelf      = "analytics.read.self"
	PermDataImport    = "data.import"
	PermAuditRead     = "audit.read"
	PermSettingsWrite = "settings.write"
	PermAPIKeysManage = "apikeys.manage"
	PermConfigWrite   = "config.write"
)

// AllPermissions lists every permission with a short description.
func AllPermissions() map[string]string {
	return map[string]string{
		PermReadAll:       "Read analytics for every user",
		PermReadTeam:      "Read analytics for direct reports",
		PermReadSelf:      "Read own analytics",
		PermDataImport:    "Import task and user datasets",
		PermAuditRead:     "Read the metrics audit log",
		PermSettingsWrite: "Change own dashboard settings",
		PermAPIKeysManage: "Issue and revoke API keys",
		PermConfigWrite:   "Replace the org configuration",
	}
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service provides RBAC helpers backed by SQL. A user's role is the role column of the users
// table; the grants of each role live in role_permissions.
type Service struct {
	DB *sql.DB
}

// EnsureUser records userID with role unless the user already exists.
func (s Service) EnsureUser(ctx context.Context, tx *sql.Tx, orgID, userID, role string) error {
	if userID == "" {
		return errors.New("user id required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users(org_id, id, role, created_at, updated_at) VALUES (?,?,?,?,?)`,
		orgID, userID, role, now, now)
	return err
}

func (s Service) UserHasPermission(ctx context.Context, orgID, userID, perm string) (bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT 1 FROM users u
JOIN role_permissions rp ON rp.org_id=u.org_id AND rp.role_id=u.role
WHERE u.org_id=? AND u.id=? AND rp.permission_id=? LIMIT 1`,
		orgID, userID, perm)
	var n int
	err := row.Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Require returns a ForbiddenError unless the user holds perm.
func (s Service) Require(ctx context.Context, orgID, userID, perm string) error {
	ok, err := s.UserHasPermission(ctx, orgID, userID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

// UserRole returns the user's role, or "" when the user is unknown.
func (s Service) UserRole(ctx context.Context, orgID, userID string) (string, error) {
	var role string
	err := s.DB.QueryRowContext(ctx, `SELECT role FROM users WHERE org_id=? AND id=?`, orgID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return role, err
}

func (s Service) UserPermissions(ctx context.Context, orgID, userID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT DISTINCT rp.permission_id
FROM users u
JOIN role_permissions rp ON rp.org_id=u.org_id AND rp.role_id=u.role
WHERE u.org_id=? AND u.id=?
ORDER BY rp.permission_id`, orgID, userID)
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
