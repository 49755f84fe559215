package session

import (
	"encoding/json"
	"fmt"

	"github.com/kanaz606/auto-geo/internal/browser"
	"github.com/kanaz606/auto-geo/internal/db"
	"github.com/kanaz606/auto-geo/internal/schemas"
)

// decodeState decrypts and validates a stored session. Blobs written before
// encryption was introduced are accepted as plain JSON.
func (m *Manager) decodeState(cred *db.Credential) (*browser.State, error) {
	raw := []byte(cred.EncryptedSessionBlob)

	res := m.vault.Decrypt(cred.EncryptedSessionBlob)
	if res.OK {
		raw = res.Plaintext
	} else {
		m.log.Warn("credential decrypt failed, falling back to plain JSON",
			"credential_id", cred.ID, "platform", cred.Platform, "error", res.Err)
	}

	if err := schemas.ValidateBytes(schemas.StorageState, raw); err != nil {
		return nil, err
	}
	return browser.ParseState(raw)
}

// encodeState serializes and encrypts a session snapshot
func (m *Manager) encodeState(state *browser.State) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to encode session state: %w", err)
	}
	if err := schemas.ValidateBytes(schemas.StorageState, data); err != nil {
		return "", err
	}
	blob, err := m.vault.Encrypt(data)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt session state: %w", err)
	}
	return blob, nil
}
