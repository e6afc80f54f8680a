package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "test-secret")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "orders.lifecycle", cfg.Messaging.Kafka.Topic)
	assert.Equal(t, "local", cfg.Feed.Driver)
	assert.Equal(t, cfg.Database.WriterDSN, cfg.Database.ReaderDSN)
	assert.Equal(t, "http://127.0.0.1:9000", cfg.Storage.PublicBaseURL)
	assert.Equal(t, 12*time.Hour, cfg.Auth.SessionTTL)
	assert.Empty(t, cfg.Auth.Staff)
	assert.NotEmpty(t, cfg.Observability.InstanceID)
}

func TestNewRequiresJWTSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")

	_, err := New()
	assert.ErrorContains(t, err, "AUTH_JWT_SECRET")
}

func TestNewDisabledSubsystems(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("MESSAGING_ENABLED", "false")
	t.Setenv("STORAGE_DRIVER", "disabled")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "noop", cfg.Cache.Driver)
	assert.Equal(t, "noop", cfg.Messaging.Driver)
	assert.Equal(t, "disabled", cfg.Storage.Driver)
}

func TestNewRejectsUnknownDrivers(t *testing.T) {
	cases := map[string]string{
		"CACHE_DRIVER":   "memcached",
		"FEED_DRIVER":    "nats",
		"STORAGE_DRIVER": "ftp",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("AUTH_JWT_SECRET", "test-secret")
			t.Setenv(key, value)

			_, err := New()
			assert.Error(t, err)
		})
	}
}

func TestParseStaffAccounts(t *testing.T) {
	accounts, err := parseStaffAccounts(" Desk@Shop.test=$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA ; owner@shop.test=$argon2id$x ;")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"desk@shop.test":  "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"owner@shop.test": "$argon2id$x",
	}, accounts)

	_, err = parseStaffAccounts("desk@shop.test")
	assert.Error(t, err)
	_, err = parseStaffAccounts("=hash")
	assert.Error(t, err)
}
