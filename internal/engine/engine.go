package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"perfline/internal/config"
	"perfline/internal/domain"
	"perfline/internal/engine/auth"
	"perfline/internal/events"
	"perfline/internal/logging"
	"perfline/internal/repo"
	"perfline/internal/telemetry"
)

// ErrInvalidArgument marks caller mistakes such as an unknown preset or dimension.
var ErrInvalidArgument = errors.New("invalid argument")

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Auth      auth.Service
	Logger    *slog.Logger
	Telemetry *telemetry.Recorder
	Now       func() time.Time

	// cfg is shared by every copy of the engine; UpdateConfig swaps the pointer.
	cfg *atomic.Pointer[config.Config]
}

func New(db *sql.DB, cfg *config.Config) Engine {
	holder := &atomic.Pointer[config.Config]{}
	holder.Store(cfg)
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Logger: logging.Discard(),
		Now:    time.Now,
		cfg:    holder,
	}
}

// Config returns the current org config. It is replaced, never modified, so callers may hold
// it but must not change it.
func (e Engine) Config() *config.Config {
	if e.cfg == nil {
		return nil
	}
	return e.cfg.Load()
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// localNow is the current time in the org's analytics timezone.
func (e Engine) localNow() time.Time {
	return e.now().In(e.Config().Location())
}

func (e Engine) log() *slog.Logger {
	if e.Logger == nil {
		return logging.Discard()
	}
	return e.Logger
}

func (e Engine) orgID() (string, error) {
	cfg := e.Config()
	if cfg == nil || cfg.Org.ID == "" {
		return "", errors.New("config not loaded")
	}
	return cfg.Org.ID, nil
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// Bootstrap creates the org, stores its config, seeds RBAC from it and records actorID as an
// admin. Running it again on an existing org refreshes config and grants.
func (e Engine) Bootstrap(ctx context.Context, name, actorID string) (domain.Org, error) {
	orgID, err := e.orgID()
	if err != nil {
		return domain.Org{}, err
	}
	if actorID == "" {
		return domain.Org{}, fmt.Errorf("%w: actor is required", ErrInvalidArgument)
	}
	err = e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		now := e.stamp()
		if err := e.Repo.EnsureOrg(ctx, tx, orgID, name, now); err != nil {
			return fmt.Errorf("ensure org: %w", err)
		}
		cfg := e.Config()
		if err := e.Repo.UpsertOrgConfigTx(ctx, tx, orgID, cfg); err != nil {
			return fmt.Errorf("store org config: %w", err)
		}
		if err := e.seedRBAC(ctx, tx, orgID, cfg); err != nil {
			return err
		}
		if err := e.Auth.EnsureUser(ctx, tx, orgID, actorID, string(domain.RoleAdmin)); err != nil {
			return fmt.Errorf("ensure admin: %w", err)
		}
		_, err := e.Events.Append(ctx, tx, "org.init", orgID, "org", orgID, actorID, events.EventPayload{"name": name})
		return err
	})
	if err != nil {
		return domain.Org{}, err
	}
	e.log().InfoContext(ctx, "org bootstrapped", "org", orgID, "actor", actorID)
	return e.Repo.GetOrg(ctx, orgID)
}

func (e Engine) seedRBAC(ctx context.Context, tx *sql.Tx, orgID string, cfg *config.Config) error {
	for id, desc := range auth.AllPermissions() {
		if err := e.Repo.InsertPermission(ctx, tx, id, desc); err != nil {
			return fmt.Errorf("insert permission %s: %w", id, err)
		}
	}
	if err := e.Repo.ClearRolePermissions(ctx, tx, orgID); err != nil {
		return fmt.Errorf("clear grants: %w", err)
	}
	for roleID, role := range cfg.RBAC.Roles {
		if err := e.Repo.InsertRole(ctx, tx, orgID, roleID, role.Description); err != nil {
			return fmt.Errorf("insert role %s: %w", roleID, err)
		}
		for _, perm := range role.Permissions {
			if err := e.Repo.InsertPermission(ctx, tx, perm, ""); err != nil {
				return fmt.Errorf("insert permission %s: %w", perm, err)
			}
			if err := e.Repo.AddRolePermission(ctx, tx, orgID, roleID, perm); err != nil {
				return fmt.Errorf("grant %s to %s: %w", perm, roleID, err)
			}
		}
	}
	return nil
}

// UpdateConfig validates and stores a new org config, reseeding role grants from it. Every
// copy of the engine sees the new config once it returns; cfg must not be modified after.
func (e Engine) UpdateConfig(ctx context.Context, actorID string, cfg *config.Config) error {
	orgID, err := e.orgID()
	if err != nil {
		return err
	}
	if err := e.Auth.Require(ctx, orgID, actorID, auth.PermConfigWrite); err != nil {
		return err
	}
	cfg.Org.ID = orgID
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	err = e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpsertOrgConfigTx(ctx, tx, orgID, cfg); err != nil {
			return err
		}
		if err := e.seedRBAC(ctx, tx, orgID, cfg); err != nil {
			return err
		}
		_, err := e.Events.Append(ctx, tx, events.TypeConfigUpdated, orgID, "org", orgID, actorID, nil)
		return err
	})
	if err != nil {
		return err
	}
	e.cfg.Store(cfg)
	e.log().InfoContext(ctx, "config updated", "org", orgID, "actor", actorID, "webhooks", len(cfg.Webhooks))
	return nil
}
