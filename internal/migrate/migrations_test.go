package migrate

import (
	"context"
	"testing"

	"perfline/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()

	if v, err := CurrentVersion(ctx, conn); err != nil || v != 0 {
		t.Fatalf("fresh version = %d, %v", v, err)
	}
	applied, err := MigrateContext(ctx, conn)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(applied) == 0 || applied[0] != "0001_init.sql" {
		t.Fatalf("unexpected applied migrations %v", applied)
	}
	applied, err = MigrateContext(ctx, conn)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("expected nothing to apply, got %v", applied)
	}
	v, err := CurrentVersion(ctx, conn)
	if err != nil || v < 1 {
		t.Fatalf("version after migrate = %d, %v", v, err)
	}
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('tasks','users','audit_log','events')`).Scan(&n); err != nil {
		t.Fatalf("inspect schema: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 core tables, got %d", n)
	}
}
