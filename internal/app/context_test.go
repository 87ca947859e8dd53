package app

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"perfline/internal/config"
	"perfline/internal/db"
	"perfline/internal/migrate"
	"perfline/internal/repo"
)

func TestResolveOrgAndConfigBootstraps(t *testing.T) {
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	ctx := context.Background()

	_, _, err = ResolveOrgAndConfig(ctx, dir, "", "", conn)
	require.Error(t, err)

	orgID, cfg, err := ResolveOrgAndConfig(ctx, dir, "acme", "", conn)
	require.NoError(t, err)
	require.Equal(t, "acme", orgID)
	require.Equal(t, "acme", cfg.Org.ID)

	role, err := repo.Repo{DB: conn}.UserRole(ctx, "acme", DefaultActor)
	require.NoError(t, err)
	require.Equal(t, "admin", role)

	// the single org is picked up without an override
	orgID, _, err = ResolveOrgAndConfig(ctx, dir, "", "", conn)
	require.NoError(t, err)
	require.Equal(t, "acme", orgID)
}

func TestResolveOrgAndConfigPrefersWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	require.NoError(t, os.WriteFile(config.Path(dir), []byte(config.GenerateDefault("from-file")), 0o644))

	orgID, got, err := ResolveOrgAndConfig(context.Background(), dir, "", "boss", conn)
	require.NoError(t, err)
	require.Equal(t, "from-file", orgID)
	require.Equal(t, 30, got.TrendDays())
}
