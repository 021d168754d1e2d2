package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/models"
)

func memoryConfig() *config.Config {
	cfg := &config.Config{
		AppName:            "fern",
		LogLevel:           "error",
		StartupMaxAttempts: 1,
		StoreDriver:        config.StoreDriverMemory,
	}
	cfg.Reconcile.Threshold = 0.8
	cfg.Reconcile.TypeThreshold = 15
	cfg.Reconcile.Workers = 2
	return cfg
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		pretty  bool
		wantErr bool
	}{
		{"production", "info", false, false},
		{"development", "debug", true, false},
		{"unknown level", "loud", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.pretty)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestApp_MemoryStore(t *testing.T) {
	a, err := New(memoryConfig())
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	require.NotNil(t, a.Engine())
	opts := a.RunOptions()
	assert.Equal(t, 0.8, opts.Threshold)
	assert.Equal(t, 15, opts.TypeThreshold)

	e := a.NewServer()

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("empty reconciliation", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/reconciliations", strings.NewReader(`{"dry_run": true}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var report models.ReconciliationReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.True(t, report.DryRun)
		assert.Zero(t, report.Processed)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})
}
