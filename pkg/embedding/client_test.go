package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/cache"
	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"length mismatch", []float64{1}, []float64{1, 2}, 0},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
		})
	}
}

func TestClient_Similarity(t *testing.T) {
	vectors := map[string][]float64{
		"солнечный берег": {1, 1, 0},
		"берег солнца":    {1, 0.9, 0.1},
		"космос":          {-1, 0, 0},
	}
	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []any{map[string]any{"embedding": vectors[req.Input[0]]}},
		})
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{URL: srv.URL, Model: "test-model", APIKey: "secret"}, cache.NewMemoryCache(), testLogger())
	ctx := context.Background()

	score, err := c.Similarity(ctx, "солнечный берег", "берег солнца")
	require.NoError(t, err)
	assert.Greater(t, score, 0.9)

	score, err = c.Similarity(ctx, "солнечный берег", "космос")
	require.NoError(t, err)
	assert.Zero(t, score, "negative similarity clamps to zero")

	assert.Equal(t, int32(3), calls.Load(), "each text is embedded once")
}

func TestClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
	}{
		{"server error", http.StatusInternalServerError, ""},
		{"no vectors", http.StatusOK, `{"data": []}`},
		{"bad json", http.StatusOK, `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.payload))
			}))
			t.Cleanup(srv.Close)

			_, err := NewClient(Config{URL: srv.URL}, nil, testLogger()).Similarity(context.Background(), "a", "b")
			assert.ErrorIs(t, err, models.ErrExternalService)
		})
	}
}
