// Package config loads process configuration from the environment, an
// optional .env file and an optional config file.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/pkg/cache"
	"github.com/Ramsey-B/fern/pkg/embedding"
	"github.com/Ramsey-B/fern/pkg/geocoder"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/reconciliation"
	"github.com/Ramsey-B/fern/pkg/retry"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	AppName            string        `mapstructure:"APP_NAME" validate:"required"`
	Port               int           `mapstructure:"PORT" validate:"min=1,max=65535"`
	HTTPReadTimeout    time.Duration `mapstructure:"HTTP_SERVER_READ_TIMEOUT"`
	HTTPWriteTimeout   time.Duration `mapstructure:"HTTP_SERVER_WRITE_TIMEOUT"`
	HTTPIdleTimeout    time.Duration `mapstructure:"HTTP_SERVER_IDLE_TIMEOUT"`
	ShutdownTimeout    time.Duration `mapstructure:"HTTP_SERVER_SHUTDOWN_TIMEOUT"`
	LogLevel           string        `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	PrettyLogs         bool          `mapstructure:"PRETTY_LOGS"`
	StartupMaxAttempts int           `mapstructure:"STARTUP_MAX_ATTEMPTS" validate:"min=1"`

	StoreDriver string                   `mapstructure:"STORE_DRIVER" validate:"oneof=postgres memory"`
	Database    database.Config          `mapstructure:",squash"`
	Migrations  database.MigrationConfig `mapstructure:",squash"`
	StoreRetry  retry.Config             `mapstructure:",squash"`

	RedisEnabled bool         `mapstructure:"REDIS_ENABLED"`
	Redis        cache.Config `mapstructure:",squash"`

	KafkaEnabled bool                 `mapstructure:"KAFKA_ENABLED"`
	Kafka        kafka.ProducerConfig `mapstructure:",squash"`

	GraphEnabled bool         `mapstructure:"GRAPH_ENABLED"`
	Graph        graph.Config `mapstructure:",squash"`

	GeocoderEnabled bool            `mapstructure:"GEOCODER_ENABLED"`
	Geocoder        geocoder.Config `mapstructure:",squash"`

	EmbeddingEnabled bool             `mapstructure:"EMBEDDING_ENABLED"`
	Embedding        embedding.Config `mapstructure:",squash"`

	Reconcile Reconcile `mapstructure:",squash"`

	TracingEnabled  bool   `mapstructure:"TRACING_ENABLED"`
	TracingEndpoint string `mapstructure:"TRACING_OTLP_ENDPOINT" validate:"required_if=TracingEnabled true"`
	TracingInsecure bool   `mapstructure:"TRACING_INSECURE"`
}

// Reconcile holds the defaults of a reconciliation run.
type Reconcile struct {
	Threshold     float64  `mapstructure:"RECONCILE_THRESHOLD" validate:"gt=0,lte=1"`
	TypeThreshold int      `mapstructure:"RECONCILE_TYPE_THRESHOLD" validate:"gte=0"`
	BackfillOnRun bool     `mapstructure:"RECONCILE_BACKFILL_ON_RUN"`
	ForceReplace  []string `mapstructure:"RECONCILE_FORCE_REPLACE"`
	CopyOnly      []string `mapstructure:"RECONCILE_COPY_ONLY"`

	reconciliation.Config `mapstructure:",squash"`
}

// DefaultForceReplace are buildings whose apartment lists are replaced
// wholesale from the latest source batch.
var DefaultForceReplace = []string{
	"жк 8 nebo",
	"жк 8 марта",
	"жк atlantis atlantis",
	"жк акварель",
	"жк зубово life garden",
	"жк квартал родина парк",
	"жк космос",
	"жк новый империал",
	"жк семейный",
	"жк экогород яркий",
}

// DefaultCopyOnly are buildings whose apartment lists are never touched.
var DefaultCopyOnly = []string{
	"жк холмогоры",
	"жк цветы башкирии",
}

var defaults = map[string]any{
	"APP_NAME":                     "fern",
	"PORT":                         3010,
	"HTTP_SERVER_READ_TIMEOUT":     "10s",
	"HTTP_SERVER_WRITE_TIMEOUT":    "10m",
	"HTTP_SERVER_IDLE_TIMEOUT":     "60s",
	"HTTP_SERVER_SHUTDOWN_TIMEOUT": "30s",
	"LOG_LEVEL":                    "info",
	"PRETTY_LOGS":                  false,
	"STARTUP_MAX_ATTEMPTS":         5,

	"STORE_DRIVER":                 StoreDriverPostgres,
	"DB_HOST":                      "localhost",
	"DB_PORT":                      5432,
	"DB_USER":                      "fern",
	"DB_PASSWORD":                  "",
	"DB_NAME":                      "fern",
	"DB_SSL_MODE":                  "disable",
	"DB_MAX_OPEN_CONNS":            25,
	"DB_MAX_IDLE_CONNS":            10,
	"DB_CONN_MAX_LIFETIME":         "5m",
	"MIGRATIONS_PATH":              "db/pg",
	"MIGRATIONS_VERSION":           0,
	"MIGRATIONS_FORCE":             0,
	"MIGRATIONS_AUTO_ROLLBACK":     true,
	"STORE_RETRY_MAX_ATTEMPTS":     3,
	"STORE_RETRY_INITIAL_INTERVAL": "200ms",
	"STORE_RETRY_MAX_INTERVAL":     "2s",

	"REDIS_ENABLED":  false,
	"REDIS_HOST":     "localhost",
	"REDIS_PORT":     6379,
	"REDIS_PASSWORD": "",
	"REDIS_DB":       0,

	"KAFKA_ENABLED":       false,
	"KAFKA_BROKERS":       []string{"localhost:9092"},
	"KAFKA_TOPIC":         "unified-house-events",
	"KAFKA_BATCH_SIZE":    100,
	"KAFKA_BATCH_TIMEOUT": "100ms",
	"KAFKA_REQUIRED_ACKS": 1,
	"KAFKA_COMPRESSION":   "snappy",

	"GRAPH_ENABLED":  false,
	"GRAPH_HOST":     "localhost",
	"GRAPH_PORT":     7687,
	"GRAPH_USER":     "",
	"GRAPH_PASSWORD": "",

	"GEOCODER_ENABLED":     false,
	"GEOCODER_BASE_URL":    "https://nominatim.openstreetmap.org",
	"GEOCODER_USER_AGENT":  "fern/1.0",
	"GEOCODER_LANGUAGE":    "ru",
	"GEOCODER_DELAY":       "1s",
	"GEOCODER_CACHE_TTL":   "720h",
	"GEOCODER_PRECISION":   4,
	"GEOCODER_TIMEOUT":     "10s",
	"EMBEDDING_ENABLED":    false,
	"EMBEDDING_URL":        "",
	"EMBEDDING_MODEL":      "",
	"EMBEDDING_API_KEY":    "",
	"EMBEDDING_DELAY":      "100ms",
	"EMBEDDING_CACHE_TTL":  "720h",
	"EMBEDDING_TIMEOUT":    "10s",

	"RECONCILE_THRESHOLD":       0.8,
	"RECONCILE_TYPE_THRESHOLD":  15,
	"RECONCILE_BACKFILL_ON_RUN": true,
	"RECONCILE_FORCE_REPLACE":   DefaultForceReplace,
	"RECONCILE_COPY_ONLY":       DefaultCopyOnly,
	"RECONCILE_WORKERS":         4,
	"RECONCILE_LOCK_TTL":        "2m",

	"TRACING_ENABLED":       false,
	"TRACING_OTLP_ENDPOINT": "",
	"TRACING_INSECURE":      true,
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration. Environment variables override the config file at
// path, which overrides the defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.KafkaEnabled && len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("invalid config: KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	if cfg.EmbeddingEnabled && cfg.Embedding.URL == "" {
		return nil, errors.New("invalid config: EMBEDDING_URL is required when EMBEDDING_ENABLED is set")
	}
	return &cfg, nil
}

// ReadNameFile reads building names, one per line. Blank lines and lines
// starting with # are ignored.
func ReadNameFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return names, nil
}
