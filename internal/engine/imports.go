package engine

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"perfline/internal/domain"
	"perfline/internal/engine/auth"
	"perfline/internal/events"
	"perfline/internal/ingest"
)

type ImportResult struct {
	Tasks int `json:"tasks"`
	Users int `json:"users"`
}

// ImportDataset upserts users and tasks in one transaction. Task ids are unique per org, so
// re-importing a task replaces it.
func (e Engine) ImportDataset(ctx context.Context, actorID string, ds ingest.Dataset) (ImportResult, error) {
	started := time.Now()
	orgID, err := e.orgID()
	if err != nil {
		return ImportResult{}, err
	}
	if err := e.Auth.Require(ctx, orgID, actorID, auth.PermDataImport); err != nil {
		return ImportResult{}, err
	}
	if err := checkDataset(ds); err != nil {
		return ImportResult{}, err
	}
	res := ImportResult{Tasks: len(ds.Tasks), Users: len(ds.Users)}
	err = e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		now := e.stamp()
		if err := e.Repo.UpsertUsersTx(ctx, tx, orgID, ds.Users, now); err != nil {
			return fmt.Errorf("import users: %w", err)
		}
		if err := e.Repo.UpsertTasksTx(ctx, tx, orgID, ds.Tasks, now); err != nil {
			return fmt.Errorf("import tasks: %w", err)
		}
		_, err := e.Events.Append(ctx, tx, events.TypeDatasetImported, orgID, "dataset", "", actorID,
			events.EventPayload{"tasks": res.Tasks, "users": res.Users})
		return err
	})
	if err != nil {
		return ImportResult{}, err
	}
	e.Telemetry.AddImported("tasks", res.Tasks)
	e.Telemetry.AddImported("users", res.Users)
	e.Telemetry.ObserveComputation("import", started)
	e.log().InfoContext(ctx, "dataset imported", "org", orgID, "actor", actorID, "tasks", res.Tasks, "users", res.Users)
	return res, nil
}

func (e Engine) ImportTasks(ctx context.Context, actorID string, tasks []domain.Task) (ImportResult, error) {
	return e.ImportDataset(ctx, actorID, ingest.Dataset{Tasks: tasks})
}

func (e Engine) ImportUsers(ctx context.Context, actorID string, users []domain.User) (ImportResult, error) {
	return e.ImportDataset(ctx, actorID, ingest.Dataset{Users: users})
}

// ImportJSON decodes a JSON dataset and imports it.
func (e Engine) ImportJSON(ctx context.Context, actorID string, r io.Reader) (ImportResult, error) {
	ds, err := ingest.DecodeReader(r)
	if err != nil {
		return ImportResult{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return e.ImportDataset(ctx, actorID, ds)
}

// checkDataset enforces what the storage layer needs: ids, known enums and unique ids.
func checkDataset(ds ingest.Dataset) error {
	seen := make(map[string]struct{}, len(ds.Tasks))
	for i, t := range ds.Tasks {
		if t.ID == "" {
			return fmt.Errorf("%w: tasks[%d].id is required", ErrInvalidArgument, i)
		}
		if !t.Status.Valid() {
			return fmt.Errorf("%w: task %s has status %q", ErrInvalidArgument, t.ID, t.Status)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("%w: duplicate task id %s", ErrInvalidArgument, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	for i, u := range ds.Users {
		if u.ID == "" {
			return fmt.Errorf("%w: users[%d].id is required", ErrInvalidArgument, i)
		}
		if !u.Role.Valid() {
			return fmt.Errorf("%w: user %s has role %q", ErrInvalidArgument, u.ID, u.Role)
		}
	}
	return nil
}
