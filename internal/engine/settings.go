package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"perfline/internal/domain"
	"perfline/internal/engine/auth"
	"perfline/internal/events"
	"perfline/internal/metrics"
	"perfline/internal/repo"
)

// Themes accepted in user settings.
var themes = []string{"", "light", "dark", "system"}

// GetSettings returns the user's stored settings, or the org defaults when none exist.
func (e Engine) GetSettings(ctx context.Context, actorID string) (domain.UserSettings, error) {
	orgID, err := e.orgID()
	if err != nil {
		return domain.UserSettings{}, err
	}
	s, err := e.Repo.GetUserSettings(ctx, orgID, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		cfg := e.Config()
		return domain.UserSettings{
			UserID:        actorID,
			DefaultPreset: cfg.Analytics.DefaultPreset,
			TrendDays:     cfg.TrendDays(),
			Theme:         "system",
			Notifications: true,
		}, nil
	}
	return s, err
}

// PutSettings stores the actor's own settings.
func (e Engine) PutSettings(ctx context.Context, actorID string, s domain.UserSettings) (domain.UserSettings, error) {
	orgID, err := e.orgID()
	if err != nil {
		return domain.UserSettings{}, err
	}
	if err := e.Auth.Require(ctx, orgID, actorID, auth.PermSettingsWrite); err != nil {
		return domain.UserSettings{}, err
	}
	if s.DefaultPreset != "" && s.DefaultPreset != "all" && !slices.Contains(metrics.PresetNames(), s.DefaultPreset) {
		return domain.UserSettings{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidArgument, s.DefaultPreset)
	}
	if s.TrendDays < 0 || s.TrendDays > 366 {
		return domain.UserSettings{}, fmt.Errorf("%w: trend_days must be between 0 and 366", ErrInvalidArgument)
	}
	if !slices.Contains(themes, s.Theme) {
		return domain.UserSettings{}, fmt.Errorf("%w: unknown theme %q", ErrInvalidArgument, s.Theme)
	}
	s.UserID = actorID
	saved, err := e.Repo.UpsertUserSettings(ctx, orgID, s, e.stamp())
	if err != nil {
		return domain.UserSettings{}, err
	}
	err = e.appendEvent(ctx, events.TypeSettingsUpdated, orgID, "user", actorID, actorID, events.EventPayload{
		"default_preset": saved.DefaultPreset,
		"trend_days":     saved.TrendDays,
	})
	return saved, err
}

// Identity describes the calling user.
type Identity struct {
	OrgID       string      `json:"org_id"`
	UserID      string      `json:"user_id"`
	Name        string      `json:"name,omitempty"`
	Role        domain.Role `json:"role,omitempty"`
	Permissions []string    `json:"permissions"`
}

func (e Engine) WhoAmI(ctx context.Context, actorID string) (Identity, error) {
	orgID, err := e.orgID()
	if err != nil {
		return Identity{}, err
	}
	id := Identity{OrgID: orgID, UserID: actorID, Permissions: []string{}}
	u, err := e.Repo.GetUser(ctx, orgID, actorID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return id, nil
	case err != nil:
		return Identity{}, err
	}
	id.Name = u.Name
	id.Role = u.Role
	perms, err := e.Auth.UserPermissions(ctx, orgID, actorID)
	if err != nil {
		return Identity{}, err
	}
	if perms != nil {
		id.Permissions = perms
	}
	return id, nil
}
