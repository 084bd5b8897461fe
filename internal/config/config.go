// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (KNOLL_* prefix, plus DATABASE_URL)
//  2. Config file (./config.yaml or /etc/knoll/config.yaml)
//  3. Default values
//
// Sensitive values (postgres password) are never logged. Validation is
// fail-fast: Load returns an error before any component is constructed.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidModelName indicates the chat model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is empty or malformed.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidDimension indicates the embedding dimension is out of range.
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrInvalidChunking indicates chunk size/overlap constraints are violated.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidRetrieval indicates top-k or distance threshold is out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval parameters")

	// ErrInvalidPostgres indicates the PostgreSQL connection settings are invalid.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")

	// ErrInvalidPipeline indicates worker/queue settings are out of range.
	ErrInvalidPipeline = errors.New("invalid ingestion pipeline parameters")
)

// Default model identifiers. gemini-embedding-001 outputs 3072 dimensions
// by default but supports truncation via OutputDimensionality; the chunk
// schema uses 768 (see db/migrations).
const (
	DefaultChatModel     = "gemini-2.0-flash"
	DefaultEmbedderModel = "gemini-embedding-001"
	DefaultDimension     = 768
)

// Config stores application configuration.
type Config struct {
	// Model configuration
	ModelName       string  `mapstructure:"model_name"`
	EmbedderModel   string  `mapstructure:"embedder_model"`
	Dimension       int     `mapstructure:"embedding_dimension"`
	Temperature     float64 `mapstructure:"temperature"`
	TopP            float64 `mapstructure:"top_p"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`

	// External call policy
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	EmbedTimeout    time.Duration `mapstructure:"embed_timeout"`
	GenerateTimeout time.Duration `mapstructure:"generate_timeout"`

	// Ingestion pipeline
	ChunkSize      int           `mapstructure:"chunk_size"`
	ChunkOverlap   int           `mapstructure:"chunk_overlap"`
	EmbedBatchSize int           `mapstructure:"embed_batch_size"`
	IngestWorkers  int           `mapstructure:"ingest_workers"`
	IngestQueue    int           `mapstructure:"ingest_queue"`
	MaxJobAttempts int           `mapstructure:"max_job_attempts"`
	JobRetryDelay  time.Duration `mapstructure:"job_retry_delay"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	UploadDir      string        `mapstructure:"upload_dir"`

	// Retrieval
	TopK          int     `mapstructure:"top_k"`
	MaxDistance   float64 `mapstructure:"max_distance"`
	IVFFlatProbes int     `mapstructure:"ivfflat_probes"`

	// Conversation history budget
	MaxHistoryExchanges int `mapstructure:"max_history_exchanges"`
	MaxHistoryTokens    int `mapstructure:"max_history_tokens"`

	// HTTP server
	ListenAddr string `mapstructure:"listen_addr"`
	RateBurst  int    `mapstructure:"rate_burst"`

	// Storage (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`
}

// Load reads configuration from file, environment, and defaults,
// then validates it.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/knoll")

	setDefaults(v)

	v.SetEnvPrefix("KNOLL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides the individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model_name", DefaultChatModel)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embedding_dimension", DefaultDimension)
	v.SetDefault("temperature", 0.6)
	v.SetDefault("top_p", 0.9)
	v.SetDefault("max_output_tokens", 1500)

	v.SetDefault("max_attempts", 3)
	v.SetDefault("retry_base_delay", time.Second)
	v.SetDefault("embed_timeout", 30*time.Second)
	v.SetDefault("generate_timeout", 60*time.Second)

	v.SetDefault("chunk_size", 500)
	v.SetDefault("chunk_overlap", 50)
	v.SetDefault("embed_batch_size", 16)
	v.SetDefault("ingest_workers", 4)
	v.SetDefault("ingest_queue", 64)
	v.SetDefault("max_job_attempts", 3)
	v.SetDefault("job_retry_delay", 5*time.Second)
	v.SetDefault("max_upload_bytes", int64(20*1024*1024))
	v.SetDefault("upload_dir", "uploads")

	v.SetDefault("top_k", 5)
	v.SetDefault("max_distance", 0.5)
	v.SetDefault("ivfflat_probes", 10)

	v.SetDefault("max_history_exchanges", 6)
	v.SetDefault("max_history_tokens", 8000)

	v.SetDefault("listen_addr", "127.0.0.1:8080")
	v.SetDefault("rate_burst", 60)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "knoll")
	v.SetDefault("postgres_password", "knoll_dev_password")
	v.SetDefault("postgres_db_name", "knoll")
	v.SetDefault("postgres_ssl_mode", "disable")
}
