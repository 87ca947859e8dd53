package repo

import (
	"context"
	"database/sql"
	"errors"

	"perfline/internal/domain"
)

func (r Repo) UpsertUserSettings(ctx context.Context, orgID string, s domain.UserSettings, now string) (domain.UserSettings, error) {
	var trendDays any
	if s.TrendDays > 0 {
		trendDays = s.TrendDays
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO user_settings(org_id, user_id, default_preset, trend_days, theme, notifications, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(org_id, user_id) DO UPDATE SET default_preset=excluded.default_preset, trend_days=excluded.trend_days,
theme=excluded.theme, notifications=excluded.notifications, updated_at=excluded.updated_at`,
		orgID, s.UserID, nullable(s.DefaultPreset), trendDays, nullable(s.Theme), s.Notifications, now, now)
	if err != nil {
		return domain.UserSettings{}, err
	}
	return r.GetUserSettings(ctx, orgID, s.UserID)
}

func (r Repo) GetUserSettings(ctx context.Context, orgID, userID string) (domain.UserSettings, error) {
	var s domain.UserSettings
	err := r.DB.QueryRowContext(ctx, `SELECT user_id, COALESCE(default_preset,''), COALESCE(trend_days,0), COALESCE(theme,''), notifications, created_at, updated_at
FROM user_settings WHERE org_id=? AND user_id=?`, orgID, userID).
		Scan(&s.UserID, &s.DefaultPreset, &s.TrendDays, &s.Theme, &s.Notifications, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}
