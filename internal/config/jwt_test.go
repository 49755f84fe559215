package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJWTConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-key-0123")
	t.Setenv("JWT_TTL", "")
	t.Setenv("JWT_EXPIRATION_HOURS", "")
	t.Setenv("JWT_ISSUER", "")

	cfg, err := NewJWTConfig()
	require.NoError(t, err)
	assert.Equal(t, "test-secret-key-0123", cfg.Secret)
	assert.Equal(t, "autogeo", cfg.Issuer)
	assert.Equal(t, 24*time.Hour, cfg.TTL)
}

func TestNewJWTConfig_Lifetime(t *testing.T) {
	tests := []struct {
		name    string
		ttl     string
		hours   string
		want    time.Duration
		wantErr string
	}{
		{name: "duration", ttl: "90m", want: 90 * time.Minute},
		{name: "legacy hours", hours: "12", want: 12 * time.Hour},
		{name: "duration wins over hours", ttl: "2h", hours: "48", want: 2 * time.Hour},
		{name: "bad duration", ttl: "soon", wantErr: "JWT_TTL"},
		{name: "bad hours", hours: "12.5", wantErr: "JWT_EXPIRATION_HOURS"},
		{name: "zero hours", hours: "0", wantErr: "at least one minute"},
		{name: "negative duration", ttl: "-1h", wantErr: "at least one minute"},
		{name: "seconds only", ttl: "30s", wantErr: "at least one minute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "test-secret-key-0123")
			t.Setenv("JWT_TTL", tt.ttl)
			t.Setenv("JWT_EXPIRATION_HOURS", tt.hours)

			cfg, err := NewJWTConfig()
			if tt.wantErr != "" {
				assert.Nil(t, cfg)
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.TTL)
		})
	}
}

func TestNewJWTConfig_Secret(t *testing.T) {
	t.Setenv("JWT_TTL", "")
	t.Setenv("JWT_EXPIRATION_HOURS", "")

	t.Setenv("JWT_SECRET", "")
	cfg, err := NewJWTConfig()
	assert.Nil(t, cfg)
	assert.ErrorContains(t, err, "JWT_SECRET is required")

	t.Setenv("JWT_SECRET", "short")
	_, err = NewJWTConfig()
	assert.ErrorContains(t, err, "at least 16")
}
