package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"doktok"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"doktok"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	WeaviateClass  string `envconfig:"WEAVIATE_CLASS" default:"LabChunk"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	GeminiAPIKey          string  `envconfig:"GEMINI_API_KEY"`
	GeminiGenerationModel string  `envconfig:"GEMINI_GENERATION_MODEL" default:"gemini-2.0-flash"`
	GeminiEmbeddingModel  string  `envconfig:"GEMINI_EMBEDDING_MODEL" default:"gemini-embedding-001"`
	GeminiRPS             float64 `envconfig:"GEMINI_RPS" default:"5"`
	GeminiBurst           int     `envconfig:"GEMINI_BURST" default:"10"`

	// Chunking & indexing
	ChunkSize        int `envconfig:"CHUNK_SIZE" default:"1200"`
	ChunkOverlap     int `envconfig:"CHUNK_OVERLAP" default:"150"`
	IndexBatchSize   int `envconfig:"INDEX_BATCH_SIZE" default:"50"`
	IndexConcurrency int `envconfig:"INDEX_CONCURRENCY" default:"4"`
	IndexTimeoutSecs int `envconfig:"INDEX_TIMEOUT_SECONDS" default:"300"`

	// Retrieval & generation
	RetrievalTopK         int     `envconfig:"RETRIEVAL_TOP_K" default:"3"`
	MaxContextChunks      int     `envconfig:"MAX_CONTEXT_CHUNKS" default:"6"`
	GenerationTemperature float32 `envconfig:"GENERATION_TEMPERATURE" default:"0.2"`
	MaxOutputTokens       int32   `envconfig:"MAX_OUTPUT_TOKENS" default:"800"`
	RequestTimeoutSecs    int     `envconfig:"REQUEST_TIMEOUT_SECONDS" default:"60"`

	// Server
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath    string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`
	UploadDir       string `envconfig:"UPLOAD_DIR" default:"./data/uploads"`
	MigrationPath   string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Missing .env files are fine, the shell environment may carry everything.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.WeaviateClass == "" {
		return fmt.Errorf("%w: WEAVIATE_CLASS", ErrMissingRequired)
	}
	if c.UploadDir == "" {
		return fmt.Errorf("%w: UPLOAD_DIR", ErrMissingRequired)
	}
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be in [0, CHUNK_SIZE)", ErrInvalidConfig)
	}
	if c.IndexBatchSize <= 0 {
		return fmt.Errorf("%w: INDEX_BATCH_SIZE must be positive", ErrInvalidConfig)
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: LOG_LEVEL must be debug, info, warn or error", ErrInvalidConfig)
	}
	if c.MaxContextChunks <= 0 || c.RetrievalTopK <= 0 {
		return fmt.Errorf("%w: RETRIEVAL_TOP_K and MAX_CONTEXT_CHUNKS must be positive", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}

func (c *Config) IndexTimeout() time.Duration {
	return time.Duration(c.IndexTimeoutSecs) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}
