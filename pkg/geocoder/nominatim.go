// Package geocoder resolves coordinates to structured addresses
package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/time/rate"

	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/cache"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
)

const service = "geocoder"

// Config holds reverse geocoder configuration
type Config struct {
	BaseURL   string        `mapstructure:"GEOCODER_BASE_URL"`
	UserAgent string        `mapstructure:"GEOCODER_USER_AGENT"`
	Language  string        `mapstructure:"GEOCODER_LANGUAGE"`
	Delay     time.Duration `mapstructure:"GEOCODER_DELAY"`
	CacheTTL  time.Duration `mapstructure:"GEOCODER_CACHE_TTL"`
	// Precision is the number of decimals coordinates are rounded to for caching.
	Precision int           `mapstructure:"GEOCODER_PRECISION"`
	Timeout   time.Duration `mapstructure:"GEOCODER_TIMEOUT"`
}

// Nominatim is a rate-limited, cached reverse geocoder over the Nominatim API.
// Calls are serialized.
type Nominatim struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	cache   cache.Cache
	logger  ectologger.Logger
	mu      sync.Mutex
}

// NewNominatim creates a geocoder. c may be nil to disable caching.
func NewNominatim(cfg Config, c cache.Cache, logger ectologger.Logger) *Nominatim {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if cfg.Language == "" {
		cfg.Language = "ru"
	}
	if cfg.Precision <= 0 {
		cfg.Precision = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}

	return &Nominatim{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		cache:   c,
		logger:  logger,
	}
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
	Address     struct {
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		CityDistrict string `json:"city_district"`
		Suburb       string `json:"suburb"`
		Road         string `json:"road"`
		HouseNumber  string `json:"house_number"`
	} `json:"address"`
}

func (r reverseResponse) parts() models.AddressParts {
	return models.AddressParts{
		Full:     r.DisplayName,
		City:     firstNonEmpty(r.Address.City, r.Address.Town, r.Address.Village),
		District: firstNonEmpty(r.Address.CityDistrict, r.Address.Suburb),
		Street:   r.Address.Road,
		House:    r.Address.HouseNumber,
	}
}

// CacheKey rounds coordinates to the configured precision.
func (n *Nominatim) CacheKey(c models.Coordinates) string {
	return strconv.FormatFloat(c.Lat, 'f', n.cfg.Precision, 64) + "," + strconv.FormatFloat(c.Lon, 'f', n.cfg.Precision, 64)
}

// Reverse looks up the address for c. A location Nominatim cannot resolve
// yields empty parts and is cached like any other answer.
func (n *Nominatim) Reverse(ctx context.Context, c models.Coordinates) (models.AddressParts, error) {
	ctx, span := tracing.StartSpan(ctx, "geocoder.Nominatim.Reverse")
	defer span.End()

	key := n.CacheKey(c)
	log := n.logger.WithContext(ctx).WithField("coordinates", key)

	if n.cache != nil {
		parts, ok, err := cache.GetJSON[models.AddressParts](ctx, n.cache, key)
		if err != nil {
			log.WithError(err).Warn("Geocode cache read failed")
		} else if ok {
			return parts, nil
		}
	}

	n.mu.Lock()
	parts, err := n.fetch(ctx, key)
	n.mu.Unlock()
	if err != nil {
		return models.AddressParts{}, err
	}

	if n.cache != nil {
		if err := cache.SetJSON(ctx, n.cache, key, parts, n.cfg.CacheTTL); err != nil {
			log.WithError(err).Warn("Geocode cache write failed")
		}
	}

	log.WithField("city", parts.City).Debug("Reverse geocoded coordinates")
	return parts, nil
}

func (n *Nominatim) fetch(ctx context.Context, key string) (models.AddressParts, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return models.AddressParts{}, err
	}

	lat, lon, _ := strings.Cut(key, ",")
	params := url.Values{
		"format":          {"jsonv2"},
		"lat":             {lat},
		"lon":             {lon},
		"addressdetails":  {"1"},
		"accept-language": {n.cfg.Language},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.cfg.BaseURL+"/reverse?"+params.Encode(), nil)
	if err != nil {
		return models.AddressParts{}, fmt.Errorf("creating request: %w", err)
	}
	if n.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", n.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := n.http.Do(req)
	if err != nil {
		metrics.RecordExternalRequest(service, "error", time.Since(start).Seconds())
		return models.AddressParts{}, fmt.Errorf("%w: nominatim request: %w", models.ErrExternalService, err)
	}
	defer resp.Body.Close()

	metrics.RecordExternalRequest(service, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())
	if resp.StatusCode != http.StatusOK {
		return models.AddressParts{}, fmt.Errorf("%w: nominatim returned HTTP %d", models.ErrExternalService, resp.StatusCode)
	}

	var body reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.AddressParts{}, fmt.Errorf("%w: parsing nominatim response: %w", models.ErrExternalService, err)
	}
	if body.Error != "" {
		return models.AddressParts{}, nil
	}
	return body.parts(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
