package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/omnidesk/inboxd/pkg/models"
)

// CreateAccount creates a new provider account
func (db *DB) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (platform, name, credentials, config, is_active, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		account.Platform,
		account.Name,
		account.Credentials,
		account.Config,
		account.IsActive,
		account.LastError,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	account.ID = id
	account.CreatedAt = now
	account.UpdatedAt = now
	return nil
}

// GetAccountByID returns an account by ID
func (db *DB) GetAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	var account models.Account
	query := `SELECT * FROM accounts WHERE id = ?`
	err := db.GetContext(ctx, &account, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// GetActiveAccounts returns all active accounts, optionally for one platform
func (db *DB) GetActiveAccounts(ctx context.Context, platform models.Platform) ([]*models.Account, error) {
	var accounts []*models.Account
	var err error
	if platform == "" {
		err = db.SelectContext(ctx, &accounts, `SELECT * FROM accounts WHERE is_active = true`)
	} else {
		err = db.SelectContext(ctx, &accounts, `SELECT * FROM accounts WHERE is_active = true AND platform = ?`, platform)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active accounts: %w", err)
	}
	return accounts, nil
}

// SetAccountActive sets the active status of an account
func (db *DB) SetAccountActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE accounts SET is_active = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, active, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set account active: %w", err)
	}
	return nil
}

// SetAccountError records the last connection error for an account
func (db *DB) SetAccountError(ctx context.Context, id int64, lastError string) error {
	query := `UPDATE accounts SET last_error = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, lastError, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set account error: %w", err)
	}
	return nil
}

// TouchAccountSync stamps last_sync_at and clears last_error
func (db *DB) TouchAccountSync(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE accounts SET last_sync_at = ?, last_error = '', updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, at, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to touch account sync: %w", err)
	}
	return nil
}

// UpdateAccountConfig replaces the provider-specific config blob.
// Used to persist cursors such as the mailbox UID high-water mark.
func (db *DB) UpdateAccountConfig(ctx context.Context, id int64, config string) error {
	query := `UPDATE accounts SET config = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, config, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update account config: %w", err)
	}
	return nil
}
