package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		for _, key := range []string{"PORT", "DB_PATH", "JWT_SECRET", "TOKEN_TTL", "LOG_LEVEL", "LOG_FORMAT", "RATES_FILE", "ALLOWED_ORIGINS"} {
			t.Setenv(key, "")
		}
		t.Setenv("PORT", "8080")
		t.Setenv("TOKEN_TTL", "24h")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, ":8080", cfg.Addr())
		assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
		assert.EqualError(t, cfg.Validate(), "JWT_SECRET must be set")
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("PORT", "9090")
		t.Setenv("JWT_SECRET", "s3cret")
		t.Setenv("TOKEN_TTL", "90m")
		t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Port)
		assert.Equal(t, 90*time.Minute, cfg.TokenTTL)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("bad values", func(t *testing.T) {
		t.Setenv("PORT", "eighty")
		_, err := Load()
		assert.Error(t, err)

		t.Setenv("PORT", "8080")
		t.Setenv("TOKEN_TTL", "forever")
		_, err = Load()
		assert.Error(t, err)
	})
}
