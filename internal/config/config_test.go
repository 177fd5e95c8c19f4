package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearRequiredEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"AWS_REGION", "DATABASE_URL", "JWT_SECRET_KEY", "ENVIRONMENT"} {
		t.Setenv(key, "")
	}
}

func TestLoadFailsFastOnMissingRequiredVar(t *testing.T) {
	clearRequiredEnv(t)
	_, err := Load()
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearRequiredEnv(t)
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("JWT_SECRET_KEY", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.Environment)
	assert.Equal(t, "users", cfg.UsersTable)
	assert.Equal(t, "orders", cfg.OrdersTable)
	assert.Equal(t, "inventory", cfg.InventoryTable)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadRejectsInvalidEnvironment(t *testing.T) {
	clearRequiredEnv(t)
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("JWT_SECRET_KEY", "test-secret")
	t.Setenv("ENVIRONMENT", "staging")

	_, err := Load()
	require.Error(t, err)
}
