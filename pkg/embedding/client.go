// Package embedding scores building names by semantic similarity
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/time/rate"

	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/cache"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
)

const service = "embedding"

// Config holds embedding service configuration
type Config struct {
	URL      string        `mapstructure:"EMBEDDING_URL"`
	Model    string        `mapstructure:"EMBEDDING_MODEL"`
	APIKey   string        `mapstructure:"EMBEDDING_API_KEY"`
	Delay    time.Duration `mapstructure:"EMBEDDING_DELAY"`
	CacheTTL time.Duration `mapstructure:"EMBEDDING_CACHE_TTL"`
	Timeout  time.Duration `mapstructure:"EMBEDDING_TIMEOUT"`
}

// Client calls an OpenAI-compatible embeddings endpoint. Calls are
// serialized, rate-limited and cached per input text.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	cache   cache.Cache
	logger  ectologger.Logger
	mu      sync.Mutex
}

// NewClient creates an embedding client. c may be nil to disable caching.
func NewClient(cfg Config, c cache.Cache, logger ectologger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		cache:   c,
		logger:  logger,
	}
}

type embedRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Similarity returns the cosine similarity of the embeddings of a and b,
// clamped to [0, 1].
func (c *Client) Similarity(ctx context.Context, a, b string) (float64, error) {
	ctx, span := tracing.StartSpan(ctx, "embedding.Client.Similarity")
	defer span.End()

	va, err := c.Embed(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := c.Embed(ctx, b)
	if err != nil {
		return 0, err
	}
	return max(Cosine(va, vb), 0), nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	key := c.cfg.Model + ":" + text

	if c.cache != nil {
		vec, ok, err := cache.GetJSON[[]float64](ctx, c.cache, key)
		if err != nil {
			c.logger.WithContext(ctx).WithError(err).Warn("Embedding cache read failed")
		} else if ok {
			return vec, nil
		}
	}

	c.mu.Lock()
	vec, err := c.fetch(ctx, text)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := cache.SetJSON(ctx, c.cache, key, vec, c.cfg.CacheTTL); err != nil {
			c.logger.WithContext(ctx).WithError(err).Warn("Embedding cache write failed")
		}
	}
	return vec, nil
}

func (c *Client) fetch(ctx context.Context, text string) ([]float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: []string{text}})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordExternalRequest(service, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: embedding request: %w", models.ErrExternalService, err)
	}
	defer resp.Body.Close()

	metrics.RecordExternalRequest(service, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: embedding service returned HTTP %d", models.ErrExternalService, resp.StatusCode)
	}

	var body embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: parsing embedding response: %w", models.ErrExternalService, err)
	}
	if len(body.Data) == 0 || len(body.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: embedding response has no vectors", models.ErrExternalService)
	}
	return body.Data[0].Embedding, nil
}

// Cosine returns the cosine similarity of two vectors. Mismatched or zero
// vectors score 0.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
