package config

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/crypto/bcrypt"
)

// OperatorConfig holds the credentials of the single operator account that
// may request control-surface tokens.
type OperatorConfig struct {
	Username     string
	PasswordHash string
	BcryptCost   int
	Pepper       string // optional global secret for additional security
}

// NewOperatorConfig reads OPERATOR_USERNAME (default: admin),
// OPERATOR_PASSWORD_HASH, BCRYPT_COST (default: 12) and PASSWORD_PEPPER.
// Login is disabled when no hash is configured.
func NewOperatorConfig() (*OperatorConfig, error) {
	costStr := os.Getenv("BCRYPT_COST")
	if costStr == "" {
		costStr = "12" // default
	}

	cost, err := strconv.Atoi(costStr)
	if err != nil {
		return nil, fmt.Errorf("invalid BCRYPT_COST: %v", err)
	}

	config := &OperatorConfig{
		Username:     getEnvString("OPERATOR_USERNAME", "admin"),
		PasswordHash: os.Getenv("OPERATOR_PASSWORD_HASH"),
		BcryptCost:   cost,
		Pepper:       os.Getenv("PASSWORD_PEPPER"),
	}

	if err := config.normalize(); err != nil {
		return nil, err
	}

	return config, nil
}

// normalize validates the configuration.
func (c *OperatorConfig) normalize() error {
	if c.BcryptCost < 10 || c.BcryptCost > 14 {
		return fmt.Errorf("bcrypt cost out of range: %d (must be 10-14)", c.BcryptCost)
	}
	if c.Username == "" {
		return fmt.Errorf("OPERATOR_USERNAME cannot be empty")
	}
	return nil
}

// LoginEnabled reports whether a password hash is configured
func (c *OperatorConfig) LoginEnabled() bool {
	return c.PasswordHash != ""
}

// HashPassword hashes a password using bcrypt (with optional pepper).
func (c *OperatorConfig) HashPassword(pw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(c.peppered(pw)), c.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify checks a username and password against the configured operator
func (c *OperatorConfig) Verify(username, pw string) bool {
	if !c.LoginEnabled() || username != c.Username {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(c.peppered(pw)))
	return err == nil
}

func (c *OperatorConfig) peppered(pw string) string {
	if c.Pepper != "" {
		return pw + c.Pepper
	}
	return pw
}
