package geocoder

import (
	"context"
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

func server(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.Equal(t, "fern-test", r.Header.Get("User-Agent"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

const moscow = `{
	"display_name": "1, улица Ленина, Тверской район, Москва, Россия",
	"address": {"city": "Москва", "city_district": "Тверской район", "road": "улица Ленина", "house_number": "1"}
}`

func TestNominatim_Reverse(t *testing.T) {
	srv, calls := server(t, http.StatusOK, moscow)
	g := NewNominatim(Config{BaseURL: srv.URL, UserAgent: "fern-test"}, cache.NewMemoryCache(), testLogger())

	parts, err := g.Reverse(context.Background(), models.Coordinates{Lat: 55.751244, Lon: 37.618423})
	require.NoError(t, err)
	assert.Equal(t, "Москва", parts.City)
	assert.Equal(t, "Тверской район", parts.District)
	assert.Equal(t, "улица Ленина", parts.Street)
	assert.Equal(t, "1", parts.House)

	_, err = g.Reverse(context.Background(), models.Coordinates{Lat: 55.751240, Lon: 37.618420})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "nearby coordinates share a rounded cache key")
}

func TestNominatim_CacheKey(t *testing.T) {
	g := NewNominatim(Config{}, nil, testLogger())
	assert.Equal(t, "55.7512,37.6184", g.CacheKey(models.Coordinates{Lat: 55.751244, Lon: 37.618423}))

	coarse := NewNominatim(Config{Precision: 2}, nil, testLogger())
	assert.Equal(t, "55.75,37.62", coarse.CacheKey(models.Coordinates{Lat: 55.751244, Lon: 37.618423}))
}

func TestNominatim_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusServiceUnavailable, ""},
		{"bad json", http.StatusOK, "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := server(t, tt.status, tt.body)
			g := NewNominatim(Config{BaseURL: srv.URL, UserAgent: "fern-test"}, nil, testLogger())
			_, err := g.Reverse(context.Background(), models.Coordinates{Lat: 55.75, Lon: 37.61})
			assert.ErrorIs(t, err, models.ErrExternalService)
		})
	}
}

func TestNominatim_UnresolvableIsCached(t *testing.T) {
	srv, calls := server(t, http.StatusOK, `{"error": "Unable to geocode"}`)
	g := NewNominatim(Config{BaseURL: srv.URL, UserAgent: "fern-test"}, cache.NewMemoryCache(), testLogger())

	for range 2 {
		parts, err := g.Reverse(context.Background(), models.Coordinates{Lat: 10, Lon: 10})
		require.NoError(t, err)
		assert.Empty(t, parts.Fields())
	}
	assert.Equal(t, int32(1), calls.Load())
}
