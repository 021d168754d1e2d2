package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "fern", cfg.AppName)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 0.8, cfg.Reconcile.Threshold)
	assert.Equal(t, 15, cfg.Reconcile.TypeThreshold)
	assert.Equal(t, 4, cfg.Reconcile.Workers)
	assert.Equal(t, 2*time.Minute, cfg.Reconcile.LockTTL)
	assert.Equal(t, DefaultForceReplace, cfg.Reconcile.ForceReplace)
	assert.Equal(t, DefaultCopyOnly, cfg.Reconcile.CopyOnly)
	assert.True(t, cfg.Reconcile.BackfillOnRun)
	assert.Equal(t, uint(3), cfg.StoreRetry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.StoreRetry.InitialInterval)
	assert.Equal(t, 4, cfg.Geocoder.Precision)
	assert.Equal(t, "db/pg", cfg.Migrations.MigrationFolderPath)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("RECONCILE_THRESHOLD", "0.9")
	t.Setenv("RECONCILE_WORKERS", "8")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("GEOCODER_DELAY", "2s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, 0.9, cfg.Reconcile.Threshold)
	assert.Equal(t, 8, cfg.Reconcile.Workers)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 2*time.Second, cfg.Geocoder.Delay)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fern.yaml")
	require.NoError(t, os.WriteFile(path, []byte("PORT: 4000\nRECONCILE_TYPE_THRESHOLD: 0\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Port)
	assert.Zero(t, cfg.Reconcile.TypeThreshold)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"log level", map[string]string{"LOG_LEVEL": "loud"}},
		{"threshold", map[string]string{"RECONCILE_THRESHOLD": "1.5"}},
		{"store driver", map[string]string{"STORE_DRIVER": "mongo"}},
		{"tracing without endpoint", map[string]string{"TRACING_ENABLED": "true"}},
		{"embedding without url", map[string]string{"EMBEDDING_ENABLED": "true"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestReadNameFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replace.txt")
	require.NoError(t, os.WriteFile(path, []byte("# force replace\nЖК Акварель\n\n  ЖК Космос  \n#ЖК Семейный\n"), 0o600))

	names, err := ReadNameFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ЖК Акварель", "ЖК Космос"}, names)

	_, err = ReadNameFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
