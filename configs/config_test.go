package configs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesEnvOverlay(t *testing.T) {
	t.Setenv("CHECKOUT_RETRY__DATABASE__MAX_ATTEMPTS", "5")
	t.Setenv("CHECKOUT_RETRY__PAYMENT__BASE_DELAY", "750ms")
	t.Setenv("CHECKOUT_BREAKER__VOLUME_THRESHOLD", "7")

	cfg, err := Load(".", "does-not-exist")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Retry.Database.MaxAttempts)
	assert.Equal(t, 750*time.Millisecond, cfg.Retry.Payment.BaseDelay)
	assert.Equal(t, 7, cfg.Breaker.VolumeThreshold)

	// untouched keys keep their base.yaml defaults
	assert.Equal(t, 2, cfg.Retry.Cache.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.Database.MaxDelay)
}

func TestLoadValidatesRequiredKeys(t *testing.T) {
	t.Setenv("CHECKOUT_MYSQL__DSN", "")

	_, err := Load(".", "does-not-exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mysql.dsn")
}
