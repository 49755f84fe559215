package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const minJWTSecretLength = 16

// JWTConfig controls the operator bearer tokens issued by the control surface
type JWTConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// NewJWTConfig loads token settings from the environment. JWT_TTL takes a Go
// duration such as "12h"; JWT_EXPIRATION_HOURS is still read when it is unset.
func NewJWTConfig() (*JWTConfig, error) {
	c := &JWTConfig{
		Secret: os.Getenv("JWT_SECRET"),
		Issuer: getEnvString("JWT_ISSUER", "autogeo"),
		TTL:    24 * time.Hour,
	}

	ttl, hours := os.Getenv("JWT_TTL"), os.Getenv("JWT_EXPIRATION_HOURS")
	switch {
	case ttl != "":
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid JWT_TTL %q: %w", ttl, err)
		}
		c.TTL = d
	case hours != "":
		n, err := strconv.Atoi(hours)
		if err != nil {
			return nil, fmt.Errorf("invalid JWT_EXPIRATION_HOURS %q: %w", hours, err)
		}
		c.TTL = time.Duration(n) * time.Hour
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *JWTConfig) validate() error {
	switch {
	case c.Secret == "":
		return errors.New("JWT_SECRET is required but not set")
	case len(c.Secret) < minJWTSecretLength:
		return fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength)
	case c.TTL < time.Minute:
		return fmt.Errorf("token lifetime must be at least one minute, got %s", c.TTL)
	}
	return nil
}
