package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/sprintly/backend/internal/util"

	"github.com/go-playground/validator"
)

var validate = validator.New()

// Validate checks v against its `validate` struct tags.
func Validate(v any) error {
	return validate.Struct(v)
}

type Config struct {
	Debug       bool
	DatabaseURL string `validate:"required"`

	Pipeline PipelineConfig
	AI       AIConfig
	Neo4j    Neo4jConfig
	RabbitMQ RabbitMQConfig
	S3       S3Config
	Server   ServerConfig
}

type PipelineConfig struct {
	MaxWorkers         int   `validate:"min=1,max=20"`
	BatchSize          int   `validate:"min=1"`
	CommitChunkSize    int   `validate:"min=1"`
	MaxUploadBytes     int64 `validate:"min=1"`
	CallTimeout        time.Duration
	EmbedTimeout       time.Duration
	RateLimit          float64 `validate:"min=0"`
	RateBurst          int     `validate:"min=0"`
	RetryAttempts      int     `validate:"min=1,max=10"`
	RetryBase          time.Duration
	RetryMax           time.Duration
	TokenEncoding      string
	MaxEmbeddingTokens int `validate:"min=0"`
}

type AIConfig struct {
	Adapter               string `validate:"oneof=openai ollama"`
	ChatModel             string `validate:"required"`
	EmbeddingModel        string `validate:"required"`
	EmbeddingDimensions   int    `validate:"min=0"`
	ChatURL               string
	ChatKey               string
	EmbeddingURL          string
	EmbeddingKey          string
	Temperature           float64 `validate:"min=0,max=2"`
	MaxConcurrentRequests int     `validate:"min=1"`
}

// Neo4jConfig is optional; an empty URI disables the graph mirror.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

func (c Neo4jConfig) Enabled() bool {
	return c.URI != ""
}

type RabbitMQConfig struct {
	User     string
	Password string
	Host     string `validate:"required"`
	Port     string `validate:"required"`
	Queue    string `validate:"required"`

	MaxRetries int `validate:"min=0"`
	RetryDelay time.Duration
}

func (c RabbitMQConfig) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + c.Port,
		Path:   "/",
	}
	return u.String()
}

type S3Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string `validate:"required"`
	UsePathStyle bool
}

type ServerConfig struct {
	Port         string `validate:"required"`
	RunRetention time.Duration
}

// Load reads the configuration from the environment (and .env, when
// util.LoadEnv ran before) and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Debug:       util.GetEnvBool("DEBUG", false),
		DatabaseURL: util.GetEnv("DATABASE_URL"),
		Pipeline: PipelineConfig{
			MaxWorkers:         util.GetEnvInt("INGEST_MAX_WORKERS", 10),
			BatchSize:          util.GetEnvInt("INGEST_EMBED_BATCH_SIZE", 2000),
			CommitChunkSize:    util.GetEnvInt("INGEST_COMMIT_CHUNK_SIZE", 500),
			MaxUploadBytes:     int64(util.GetEnvNumeric("INGEST_MAX_UPLOAD_BYTES", 200<<20)),
			CallTimeout:        util.GetEnvDuration("INGEST_CALL_TIMEOUT", 30*time.Second),
			EmbedTimeout:       util.GetEnvDuration("INGEST_EMBED_TIMEOUT", 2*time.Minute),
			RateLimit:          util.GetEnvNumeric("INGEST_RATE_LIMIT", 0),
			RateBurst:          util.GetEnvInt("INGEST_RATE_BURST", 0),
			RetryAttempts:      util.GetEnvInt("INGEST_RETRY_ATTEMPTS", 3),
			RetryBase:          util.GetEnvDuration("INGEST_RETRY_BASE", 500*time.Millisecond),
			RetryMax:           util.GetEnvDuration("INGEST_RETRY_MAX", 10*time.Second),
			TokenEncoding:      util.GetEnvString("EMBEDDING_TOKEN_ENCODING", "cl100k_base"),
			MaxEmbeddingTokens: util.GetEnvInt("EMBEDDING_MAX_TOKENS", 8000),
		},
		AI: AIConfig{
			Adapter:               util.GetEnvString("AI_ADAPTER", "openai"),
			ChatModel:             util.GetEnvString("AI_CHAT_MODEL", "gpt-4o-mini"),
			EmbeddingModel:        util.GetEnvString("AI_EMBED_MODEL", "text-embedding-3-small"),
			EmbeddingDimensions:   util.GetEnvInt("AI_EMBED_DIMENSIONS", 1536),
			ChatURL:               util.GetEnv("AI_CHAT_URL"),
			ChatKey:               util.GetEnv("AI_CHAT_KEY"),
			EmbeddingURL:          util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey:          util.GetEnv("AI_EMBED_KEY"),
			Temperature:           util.GetEnvNumeric("AI_TEMPERATURE", 0),
			MaxConcurrentRequests: util.GetEnvInt("AI_PARALLEL_REQ", 20),
		},
		Neo4j: Neo4jConfig{
			URI:      util.GetEnv("NEO4J_URI"),
			Username: util.GetEnvString("NEO4J_USER", "neo4j"),
			Password: util.GetEnv("NEO4J_PASSWORD"),
			Database: util.GetEnv("NEO4J_DATABASE"),
		},
		RabbitMQ: RabbitMQConfig{
			User:     util.GetEnvString("RABBITMQ_USER", "guest"),
			Password: util.GetEnvString("RABBITMQ_PASSWORD", "guest"),
			Host:     util.GetEnvString("RABBITMQ_HOST", "localhost"),
			Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
			Queue:    util.GetEnvString("INGEST_QUEUE", "ingest_queue"),

			MaxRetries: util.GetEnvInt("INGEST_QUEUE_MAX_RETRIES", 5),
			RetryDelay: util.GetEnvDuration("INGEST_QUEUE_RETRY_DELAY", 30*time.Second),
		},
		S3: S3Config{
			Endpoint:     util.GetEnv("AWS_ENDPOINT"),
			Region:       util.GetEnvString("AWS_REGION", "us-east-1"),
			AccessKey:    util.GetEnv("AWS_ACCESS_KEY"),
			SecretKey:    util.GetEnv("AWS_SECRET_KEY"),
			Bucket:       util.GetEnvString("AWS_BUCKET", "imports"),
			UsePathStyle: util.GetEnvBool("AWS_USE_PATH_STYLE", true),
		},
		Server: ServerConfig{
			Port:         util.GetEnvString("PORT", "8080"),
			RunRetention: util.GetEnvDuration("RUN_RETENTION", time.Hour),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
