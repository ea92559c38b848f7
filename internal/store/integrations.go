package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UpsertIntegration stores credentials for (user, type). Reconnecting an
// existing integration overwrites its credentials and flips it active; the
// single row per pair is preserved whether or not it was active.
func (s *Store) UpsertIntegration(ctx context.Context, integ *Integration) error {
	const update = `
		UPDATE user_integrations
		SET access_token = $3,
		    refresh_token = $4,
		    integration_user_id = $5,
		    integration_username = $6,
		    is_active = TRUE,
		    connected_at = now(),
		    metadata = $7
		WHERE user_id = $1 AND integration_type = $2
		RETURNING id, connected_at`

	err := s.db.QueryRow(ctx, update,
		integ.UserID, integ.Type,
		integ.AccessToken, integ.RefreshToken,
		integ.RemoteUserID, integ.RemoteUsername,
		integ.Metadata,
	).Scan(&integ.ID, &integ.ConnectedAt)
	if err == nil {
		integ.Active = true
		s.logger.Debug("updated integration", "user_id", integ.UserID, "type", integ.Type)
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("updating integration: %w", err)
	}

	const insert = `
		INSERT INTO user_integrations
			(user_id, integration_type, access_token, refresh_token,
			 integration_user_id, integration_username, is_active, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)
		RETURNING id, connected_at`

	err = s.db.QueryRow(ctx, insert,
		integ.UserID, integ.Type,
		integ.AccessToken, integ.RefreshToken,
		integ.RemoteUserID, integ.RemoteUsername,
		integ.Metadata,
	).Scan(&integ.ID, &integ.ConnectedAt)
	if err != nil {
		return fmt.Errorf("inserting integration: %w", err)
	}

	integ.Active = true
	s.logger.Debug("created integration", "user_id", integ.UserID, "type", integ.Type)
	return nil
}

// GetIntegration returns the active integration of the given type for a user.
func (s *Store) GetIntegration(ctx context.Context, userID uuid.UUID, integrationType string) (*Integration, error) {
	const q = `
		SELECT id, user_id, integration_type, access_token, refresh_token,
		       integration_user_id, integration_username, is_active, connected_at, metadata
		FROM user_integrations
		WHERE user_id = $1 AND integration_type = $2 AND is_active`

	var integ Integration
	err := s.db.QueryRow(ctx, q, userID, integrationType).Scan(
		&integ.ID, &integ.UserID, &integ.Type,
		&integ.AccessToken, &integ.RefreshToken,
		&integ.RemoteUserID, &integ.RemoteUsername,
		&integ.Active, &integ.ConnectedAt, &integ.Metadata,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s integration: %w", integrationType, err)
	}
	return &integ, nil
}

// DeactivateIntegration marks the integration disconnected. The row and its
// (encrypted) credentials are kept; reconnecting overwrites them.
func (s *Store) DeactivateIntegration(ctx context.Context, userID uuid.UUID, integrationType string) error {
	const q = `
		UPDATE user_integrations
		SET is_active = FALSE
		WHERE user_id = $1 AND integration_type = $2`

	if _, err := s.db.Exec(ctx, q, userID, integrationType); err != nil {
		return fmt.Errorf("deactivating %s integration: %w", integrationType, err)
	}

	s.logger.Debug("deactivated integration", "user_id", userID, "type", integrationType)
	return nil
}
