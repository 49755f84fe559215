package db

import (
	"time"

	"github.com/google/uuid"
)

// CredentialStatus constants
const (
	CredentialActive  = "ACTIVE"
	CredentialInvalid = "INVALID"
)

// Credential is an encrypted, platform-scoped automation session secret.
// EncryptedSessionBlob is never decrypted by this package.
type Credential struct {
	ID                   uuid.UUID  `json:"id"`
	Platform             string     `json:"platform"`
	Account              string     `json:"account"`
	EncryptedSessionBlob string     `json:"-"`
	Status               string     `json:"status"`
	LastAuthorizedAt     *time.Time `json:"last_authorized_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// UpsertCredentialInput is written by the authorization finalize step
type UpsertCredentialInput struct {
	Platform             string
	Account              string
	EncryptedSessionBlob string
	AuthorizedAt         time.Time
}
