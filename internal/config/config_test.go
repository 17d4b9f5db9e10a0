package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodrescue/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	for _, k := range []string{"LISTEN_ADDR", "AUDIT_WORKERS", "AUDIT_POLL_INTERVAL", "STRICT_QUANTITY", "DDB_TABLE_DONATIONS", "DDB_TABLE_CLAIM_LOCKS", "CLASSIFIER_TIMEOUT"} {
		t.Setenv(k, "")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, config.DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 2, cfg.AuditWorkers)
	assert.Equal(t, 500*time.Millisecond, cfg.AuditPollInterval)
	assert.False(t, cfg.StrictQuantity)
	assert.Equal(t, "food_items", cfg.DonationsTable)
	assert.Equal(t, "claim_locks", cfg.LocksTable)
	assert.Zero(t, cfg.ClassifierTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "DynamoDB")
	t.Setenv("AUDIT_WORKERS", "5")
	t.Setenv("AUDIT_POLL_INTERVAL", "2s")
	t.Setenv("STRICT_QUANTITY", "true")
	t.Setenv("DDB_TABLE_CLAIMS", "claims-test")
	t.Setenv("CLASSIFIER_TIMEOUT", "45s")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.DriverDynamo, cfg.StoreDriver)
	assert.Equal(t, 5, cfg.AuditWorkers)
	assert.Equal(t, 2*time.Second, cfg.AuditPollInterval)
	assert.True(t, cfg.StrictQuantity)
	assert.Equal(t, "claims-test", cfg.ClaimsTable)
	assert.Equal(t, 45*time.Second, cfg.ClassifierTimeout)
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("AUDIT_WORKERS", "many")
	t.Setenv("AUDIT_POLL_INTERVAL", "-1s")
	t.Setenv("STRICT_QUANTITY", "maybe")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.AuditWorkers)
	assert.Equal(t, 500*time.Millisecond, cfg.AuditPollInterval)
	assert.False(t, cfg.StrictQuantity)
}

func TestValidate(t *testing.T) {
	assert.Error(t, config.Config{StoreDriver: config.DriverPostgres}.Validate())
	assert.NoError(t, config.Config{StoreDriver: config.DriverPostgres, DatabaseURL: "postgres://x"}.Validate())
	assert.Error(t, config.Config{StoreDriver: "redis"}.Validate())
	assert.Error(t, config.Config{StoreDriver: config.DriverMemory, AuditWorkers: -1}.Validate())
	assert.Error(t, config.Config{StoreDriver: config.DriverDynamo, DonationsTable: "d", ClaimsTable: "c"}.Validate())
	assert.NoError(t, config.Config{StoreDriver: config.DriverDynamo, DonationsTable: "d", ClaimsTable: "c", LocksTable: "l"}.Validate())
}
