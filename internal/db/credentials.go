package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const credentialColumns = `id, platform, account, encrypted_session_blob, status,
	last_authorized_at, created_at, updated_at`

func scanCredential(row pgx.Row) (*Credential, error) {
	var c Credential
	err := row.Scan(&c.ID, &c.Platform, &c.Account, &c.EncryptedSessionBlob, &c.Status,
		&c.LastAuthorizedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ActiveCredential returns the most recently authorized ACTIVE credential for a platform
func (db *DB) ActiveCredential(ctx context.Context, platform string) (*Credential, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+`
		 FROM credentials
		 WHERE platform = $1 AND status = $2
		 ORDER BY last_authorized_at DESC NULLS LAST
		 LIMIT 1`,
		platform, CredentialActive,
	)
	c, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active credential: %w", err)
	}
	return c, nil
}

// UpsertCredential writes the credential for (platform, account) and marks it ACTIVE
func (db *DB) UpsertCredential(ctx context.Context, input UpsertCredentialInput) (*Credential, error) {
	row := db.pool.QueryRow(ctx,
		`INSERT INTO credentials (platform, account, encrypted_session_blob, status, last_authorized_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (platform, account) DO UPDATE
		 SET encrypted_session_blob = EXCLUDED.encrypted_session_blob,
		     status = EXCLUDED.status,
		     last_authorized_at = EXCLUDED.last_authorized_at,
		     updated_at = NOW()
		 RETURNING `+credentialColumns,
		input.Platform, input.Account, input.EncryptedSessionBlob, CredentialActive, input.AuthorizedAt,
	)
	c, err := scanCredential(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert credential: %w", err)
	}
	return c, nil
}

// MarkCredentialInvalid flags a credential whose session can no longer be used
func (db *DB) MarkCredentialInvalid(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE credentials SET status = $1, updated_at = NOW() WHERE id = $2`,
		CredentialInvalid, id,
	)
	if err != nil {
		return fmt.Errorf("failed to invalidate credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
