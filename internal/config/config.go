package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

const (
	IndexBackendFile     = "file"
	IndexBackendWeaviate = "weaviate"
)

type Config struct {
	// Document store
	AWSRegion      string `envconfig:"AWS_REGION" default:"us-east-1"`
	S3Bucket       string `envconfig:"S3_BUCKET"`
	S3Endpoint     string `envconfig:"S3_ENDPOINT"`
	S3UsePathStyle bool   `envconfig:"S3_USE_PATH_STYLE" default:"false"`
	S3AccessKeyID  string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey    string `envconfig:"S3_SECRET_ACCESS_KEY"`
	DocPrefix      string `envconfig:"DOC_PREFIX" default:"Documents/"`
	FormPrefix     string `envconfig:"FORM_PREFIX" default:"Forms/"`
	FormLinkTTL    int    `envconfig:"FORM_LINK_TTL_SECONDS" default:"3600"`

	// Models
	GeminiAPIKey       string  `envconfig:"GEMINI_API_KEY"`
	GeminiEndpoint     string  `envconfig:"GEMINI_ENDPOINT"`
	EmbeddingModel     string  `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	CompletionModel    string  `envconfig:"COMPLETION_MODEL" default:"gemini-2.5-flash"`
	MaxOutputTokens    int     `envconfig:"MAX_OUTPUT_TOKENS" default:"1000"`
	CondenseMaxTokens  int     `envconfig:"CONDENSE_MAX_TOKENS" default:"256"`
	ModelRPS           float64 `envconfig:"MODEL_RPS" default:"10"`
	ModelBurst         int     `envconfig:"MODEL_BURST" default:"10"`
	BreakerFailures    int     `envconfig:"BREAKER_FAILURES" default:"5"`
	BreakerOpenSeconds int     `envconfig:"BREAKER_OPEN_SECONDS" default:"30"`

	// Index
	IndexBackend          string `envconfig:"INDEX_BACKEND" default:"file"`
	IndexCachePath        string `envconfig:"INDEX_CACHE_PATH" default:"./index_cache"`
	IndexRebuildOnCorrupt bool   `envconfig:"INDEX_REBUILD_ON_CORRUPT" default:"true"`
	ChunkSize             int    `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap          int    `envconfig:"CHUNK_OVERLAP" default:"100"`
	EmbedConcurrency      int    `envconfig:"EMBED_CONCURRENCY" default:"8"`
	RetrievalTopK         int    `envconfig:"RETRIEVAL_TOP_K" default:"4"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	WeaviateClass  string `envconfig:"WEAVIATE_CLASS" default:"KnowledgeChunk"`

	// Embedding cache (disabled when empty)
	RedisAddr          string `envconfig:"REDIS_ADDR"`
	RedisPassword      string `envconfig:"REDIS_PASSWORD"`
	RedisDB            int    `envconfig:"REDIS_DB" default:"0"`
	EmbeddingCacheTTLM int    `envconfig:"EMBEDDING_CACHE_TTL_MINUTES" default:"1440"`

	// Transcript store
	TranscriptEnabled bool   `envconfig:"TRANSCRIPT_ENABLED" default:"false"`
	DBHost            string `envconfig:"DB_HOST" default:"postgres"`
	DBPort            int    `envconfig:"DB_PORT" default:"5432"`
	DBUser            string `envconfig:"DB_USER" default:"voltassist"`
	DBPass            string `envconfig:"DB_PASS" default:"password"`
	DBName            string `envconfig:"DB_NAME" default:"voltassist"`
	MigrationPath     string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Rebuild trigger (disabled when empty)
	NSQDHost   string `envconfig:"NSQD_HOST"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP"`
	NSQLookupd string `envconfig:"NSQ_LOOKUPD"`

	// Conversation
	TurnTimeoutSeconds int    `envconfig:"TURN_TIMEOUT_SECONDS" default:"60"`
	SessionIdleMinutes int    `envconfig:"SESSION_IDLE_MINUTES" default:"60"`
	UtilityName        string `envconfig:"ASSISTANT_UTILITY_NAME" default:"Sabah Electricity Sdn Bhd (SESB)"`
	GreetingMessage    string `envconfig:"ASSISTANT_GREETING" default:"Hello, I am the SESB customer service assistant. How can I help you today?"`
	RefusalMessage     string `envconfig:"ASSISTANT_REFUSAL" default:"Sorry, I am the SESB electricity customer service assistant and cannot answer questions unrelated to electricity services. Is there anything about your meter or bill I can help with?"`
	NoInfoMessage      string `envconfig:"ASSISTANT_NO_INFO" default:"There is currently no related information in the available reference material."`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	CORSOrigin   string `envconfig:"CORS_ORIGIN" default:"*"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell win; a missing .env is fine.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.S3Bucket == "" {
		return fmt.Errorf("%w: S3_BUCKET", ErrMissingRequired)
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingRequired)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: CHUNK_SIZE must be positive", ErrInvalid)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be in [0, CHUNK_SIZE)", ErrInvalid)
	}
	if c.RetrievalTopK <= 0 {
		return fmt.Errorf("%w: RETRIEVAL_TOP_K must be positive", ErrInvalid)
	}
	switch c.IndexBackend {
	case IndexBackendFile:
		if c.IndexCachePath == "" {
			return fmt.Errorf("%w: INDEX_CACHE_PATH", ErrMissingRequired)
		}
	case IndexBackendWeaviate:
		if c.WeaviateClass == "" {
			return fmt.Errorf("%w: WEAVIATE_CLASS", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: INDEX_BACKEND %q", ErrInvalid, c.IndexBackend)
	}
	if c.TranscriptEnabled && (c.DBHost == "" || c.DBName == "") {
		return fmt.Errorf("%w: DB_HOST/DB_NAME required when TRANSCRIPT_ENABLED", ErrMissingRequired)
	}
	return nil
}

// IndexLocation is the cache location handed to the index manager: a
// directory for the file backend, a class name for weaviate.
func (c *Config) IndexLocation() string {
	if c.IndexBackend == IndexBackendWeaviate {
		return c.WeaviateClass
	}
	return c.IndexCachePath
}

func (c *Config) TurnTimeout() time.Duration {
	return time.Duration(c.TurnTimeoutSeconds) * time.Second
}

func (c *Config) LinkTTL() time.Duration {
	return time.Duration(c.FormLinkTTL) * time.Second
}

// SessionIdle is how long a session may sit unused before it is closed. Zero
// disables expiry.
func (c *Config) SessionIdle() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}
