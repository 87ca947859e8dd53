package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"perfline/internal/config"
	"perfline/internal/engine"
	"perfline/internal/repo"
)

const DefaultActor = "local-admin"

// ResolveOrgAndConfig picks the active org and makes sure it exists with a stored config.
// The org comes from the override, then the workspace perfline.yml, then the only org in the
// database. A missing org is bootstrapped with actorID as its first admin.
func ResolveOrgAndConfig(ctx context.Context, workspace, orgOverride, actorID string, conn *sql.DB) (string, *config.Config, error) {
	r := repo.Repo{DB: conn}
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}
	orgID := orgOverride
	if orgID == "" && fileCfg != nil {
		orgID = fileCfg.Org.ID
	}
	if orgID == "" {
		o, err := r.SingleOrg(ctx)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", nil, fmt.Errorf("no org found; run pl init --org <id>")
			}
			return "", nil, err
		}
		orgID = o.ID
	}

	cfg, err := r.GetOrgConfig(ctx, orgID)
	if err == nil {
		return orgID, cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", nil, err
	}

	seed := fileCfg
	if seed == nil || seed.Org.ID != orgID {
		seed = config.Default(orgID)
	}
	if actorID == "" {
		actorID = DefaultActor
	}
	if _, err := engine.New(conn, seed).Bootstrap(ctx, seed.Org.Name, actorID); err != nil {
		return "", nil, fmt.Errorf("bootstrap org %s: %w", orgID, err)
	}
	return orgID, seed, nil
}
