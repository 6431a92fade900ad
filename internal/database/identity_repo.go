package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/omnidesk/inboxd/pkg/models"
)

// CreateIdentity creates a new channel identity
func (db *DB) CreateIdentity(ctx context.Context, identity *models.Identity) error {
	query := `
		INSERT INTO identities (account_id, kind, value, display_name, avatar_url, contact_id, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	if identity.Metadata == "" {
		identity.Metadata = "{}"
	}
	result, err := db.ExecContext(ctx, query,
		identity.AccountID,
		identity.Kind,
		identity.Value,
		identity.DisplayName,
		identity.AvatarURL,
		identity.ContactID,
		identity.Metadata,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	identity.ID = id
	identity.CreatedAt = now
	identity.UpdatedAt = now
	return nil
}

// GetIdentityByID returns an identity by ID
func (db *DB) GetIdentityByID(ctx context.Context, id int64) (*models.Identity, error) {
	var identity models.Identity
	query := `SELECT * FROM identities WHERE id = ?`
	err := db.GetContext(ctx, &identity, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return &identity, nil
}

// GetIdentityByValue returns an identity by its normalized address
func (db *DB) GetIdentityByValue(ctx context.Context, accountID int64, kind models.IdentityKind, value string) (*models.Identity, error) {
	var identity models.Identity
	query := `SELECT * FROM identities WHERE account_id = ? AND kind = ? AND value = ?`
	err := db.GetContext(ctx, &identity, query, accountID, kind, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return &identity, nil
}

// UpdateIdentityProfile enriches display name and avatar when they change
func (db *DB) UpdateIdentityProfile(ctx context.Context, id int64, displayName, avatarURL string) error {
	query := `UPDATE identities SET display_name = ?, avatar_url = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, displayName, avatarURL, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update identity profile: %w", err)
	}
	return nil
}
