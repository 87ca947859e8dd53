package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"perfline/internal/domain"
	"perfline/internal/engine/auth"
	"perfline/internal/events"
	"perfline/internal/repo"
)

const apiKeyPrefix = "pl_"

// IssuedAPIKey carries the plaintext key. It is only available at creation time.
type IssuedAPIKey struct {
	domain.APIKey
	Key string `json:"key"`
}

// CreateAPIKey issues a key that authenticates as subjectID. Issuing for someone else needs
// apikeys.manage.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, subjectID, name string) (IssuedAPIKey, error) {
	orgID, err := e.orgID()
	if err != nil {
		return IssuedAPIKey{}, err
	}
	if subjectID == "" {
		subjectID = actorID
	}
	if err := e.Auth.Require(ctx, orgID, actorID, auth.PermAPIKeysManage); err != nil {
		return IssuedAPIKey{}, err
	}
	if _, err := e.Repo.GetUser(ctx, orgID, subjectID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return IssuedAPIKey{}, fmt.Errorf("%w: unknown user %q", ErrInvalidArgument, subjectID)
		}
		return IssuedAPIKey{}, err
	}
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return IssuedAPIKey{}, fmt.Errorf("generate key: %w", err)
	}
	plain := apiKeyPrefix + hex.EncodeToString(raw)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		ActorID:   subjectID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.stamp(),
	}
	err = e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		_, err := e.Events.Append(ctx, tx, events.TypeAPIKeyCreated, orgID, "api_key", key.ID, actorID,
			events.EventPayload{"subject": subjectID, "name": key.Name})
		return err
	})
	if err != nil {
		return IssuedAPIKey{}, err
	}
	e.log().InfoContext(ctx, "api key created", "org", orgID, "actor", actorID, "subject", subjectID, "key_id", key.ID)
	return IssuedAPIKey{APIKey: key, Key: plain}, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actorID, subjectID string) ([]domain.APIKey, error) {
	orgID, err := e.orgID()
	if err != nil {
		return nil, err
	}
	if err := e.Auth.Require(ctx, orgID, actorID, auth.PermAPIKeysManage); err != nil {
		return nil, err
	}
	return e.Repo.ListAPIKeys(ctx, orgID, subjectID)
}

func (e Engine) RevokeAPIKey(ctx context.Context, actorID, id string) error {
	orgID, err := e.orgID()
	if err != nil {
		return err
	}
	if err := e.Auth.Require(ctx, orgID, actorID, auth.PermAPIKeysManage); err != nil {
		return err
	}
	if err := e.Repo.DeleteAPIKey(ctx, orgID, id); err != nil {
		return err
	}
	return e.appendEvent(ctx, events.TypeAPIKeyRevoked, orgID, "api_key", id, actorID, nil)
}

// Authenticate resolves a plaintext API key to its key record.
func (e Engine) Authenticate(ctx context.Context, plain string) (domain.APIKey, error) {
	key, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain))
	if err != nil {
		return domain.APIKey{}, err
	}
	if orgID, err := e.orgID(); err == nil && key.OrgID != orgID {
		return domain.APIKey{}, repo.ErrNotFound
	}
	return key, nil
}

func (e Engine) appendEvent(ctx context.Context, evtType, orgID, kind, entityID, actorID string, payload events.EventPayload) error {
	return e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := e.Events.Append(ctx, tx, evtType, orgID, kind, entityID, actorID, payload)
		return err
	})
}

// EventLog returns the org's newest events first.
func (e Engine) EventLog(ctx context.Context, actorID string, f repo.EventFilters) ([]domain.Event, error) {
	orgID, err := e.orgID()
	if err != nil {
		return nil, err
	}
	if err := e.Auth.Require(ctx, orgID, actorID, auth.PermAuditRead); err != nil {
		return nil, err
	}
	f.OrgID = orgID
	return e.Repo.LatestEvents(ctx, f)
}
