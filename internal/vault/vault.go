// Package vault encrypts automation session secrets at rest.
//
// The master secret is stretched with PBKDF2-HMAC-SHA256 into a 32-byte
// Fernet key. Tokens are interchangeable with those written by the earlier
// Python deployment, so credentials stored before the migration stay readable.
package vault

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Salt is fixed so every process holding the master secret derives the same key
	Salt       = "auto_geo_secure_salt_v1"
	Iterations = 100000
	KeyLength  = 32
)

var (
	// ErrEmptyToken is returned when Decrypt is given an empty string
	ErrEmptyToken = errors.New("empty token")
	// ErrInvalidToken covers malformed, truncated or tampered tokens
	ErrInvalidToken = errors.New("invalid token")
	// ErrEmptySecret is returned by New when no master secret is configured
	ErrEmptySecret = errors.New("master secret is empty")
)

// Result is the outcome of a decryption. Err is set when OK is false.
type Result struct {
	Plaintext []byte
	OK        bool
	Err       error
}

// Vault is safe for concurrent use.
type Vault struct {
	keys []*fernet.Key
}

// New derives the vault key from masterSecret.
func New(masterSecret string) (*Vault, error) {
	if masterSecret == "" {
		return nil, ErrEmptySecret
	}
	return fromKey(DeriveKey(masterSecret)), nil
}

func fromKey(raw []byte) *Vault {
	var key fernet.Key
	copy(key[:], raw)
	return &Vault{keys: []*fernet.Key{&key}}
}

// DeriveKey stretches the master secret into the 32-byte Fernet key
func DeriveKey(masterSecret string) []byte {
	return pbkdf2.Key([]byte(masterSecret), []byte(Salt), Iterations, KeyLength, sha256.New)
}

// Encrypt returns a URL-safe base64 token for plaintext. An empty plaintext
// still produces a valid token.
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	token, err := fernet.EncryptAndSign(plaintext, v.keys[0])
	if err != nil {
		return "", fmt.Errorf("failed to encrypt: %w", err)
	}
	return string(token), nil
}

// Decrypt verifies and decrypts token. It never panics; every failure is
// reported through the Result. Token age is not checked.
func (v *Vault) Decrypt(token string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("%w: %v", ErrInvalidToken, r)}
		}
	}()

	if token == "" {
		return Result{Err: ErrEmptyToken}
	}
	normalized, err := normalizeToken(token)
	if err != nil {
		return Result{Err: fmt.Errorf("%w: %v", ErrInvalidToken, err)}
	}

	plaintext := fernet.VerifyAndDecrypt(normalized, 0, v.keys)
	if plaintext == nil {
		return Result{Err: fmt.Errorf("%w: verification failed", ErrInvalidToken)}
	}
	return Result{Plaintext: plaintext, OK: true}
}

// EncryptJSON marshals value and encrypts it
func (v *Vault) EncryptJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value: %w", err)
	}
	return v.Encrypt(data)
}

// DecryptJSON decrypts token into out
func (v *Vault) DecryptJSON(token string, out any) error {
	res := v.Decrypt(token)
	if !res.OK {
		return res.Err
	}
	if err := json.Unmarshal(res.Plaintext, out); err != nil {
		return fmt.Errorf("failed to unmarshal decrypted value: %w", err)
	}
	return nil
}

// normalizeToken accepts padded and unpadded URL-safe base64 and returns the
// padded form the token format is defined over.
func normalizeToken(token string) ([]byte, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		if raw, err = base64.RawURLEncoding.DecodeString(token); err != nil {
			return nil, err
		}
	}
	return []byte(base64.URLEncoding.EncodeToString(raw)), nil
}
