package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for k, v := range map[string]string{
		"APP_ENV": "test", "APP_PORT": "8080", "DB_USER": "app", "DB_HOST": "localhost",
		"DB_PORT": "3306", "DB_NAME": "resort", "JWT_SECRET": "s3cret",
	} {
		t.Setenv(k, v)
	}
	t.Setenv("ESCROW_CHAINS", "sepolia, amoy ,")
	t.Setenv("CHECKIN_ROTATION", "45s")
	t.Setenv("RATE_LIMIT_ENABLED", "off")

	cfg := Load()
	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, 50, cfg.Booking.DepositPercent)
	assert.Equal(t, 45*time.Second, cfg.Checkin.Rotation)
	assert.Equal(t, "s3cret", cfg.Checkin.Secret, "falls back to the JWT secret")
	assert.Equal(t, []string{"sepolia", "amoy"}, cfg.Escrow.Chains)
	assert.True(t, cfg.Escrow.IsKnownChain("AMOY"))
	assert.False(t, cfg.Escrow.IsKnownChain("mainnet"))
	assert.Equal(t, 1500*time.Millisecond, cfg.Pricing.Timeout)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.True(t, cfg.Cache.Methods["GET"])
}

func TestRateLimitNormalize(t *testing.T) {
	c := RateLimitConfig{Capacity: 0, RefillTokens: -1, RefillInterval: 0, TTL: time.Second}.normalize()
	assert.Equal(t, 1, c.Capacity)
	assert.Equal(t, 1, c.RefillTokens)
	assert.Equal(t, time.Second, c.RefillInterval)
	assert.Equal(t, 5*time.Second, c.TTL)
}
