package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"local"`

	Postgres PostgresConfig
	Redis    RedisConfig
	Mongo    MongoConfig
	Vertex   VertexConfig
	JWT      JWTConfig
	Call     CallConfig
	Workers  WorkersConfig

	GCSBucket string `envconfig:"GCS_BUCKET"`
}

type PostgresConfig struct {
	URI             string        `envconfig:"POSTGRES_URI" required:"true"`
	MaxIdleConns    int           `envconfig:"POSTGRES_MAX_IDLE_CONNS" default:"10"`
	MaxOpenConns    int           `envconfig:"POSTGRES_MAX_OPEN_CONNS" default:"100"`
	ConnMaxLifetime time.Duration `envconfig:"POSTGRES_CONN_MAX_LIFETIME" default:"30m"`
	ConnMaxIdleTime time.Duration `envconfig:"POSTGRES_CONN_MAX_IDLE_TIME" default:"5m"`
	AutoMigrate     bool          `envconfig:"POSTGRES_AUTO_MIGRATE" default:"true"`
}

// RedisConfig accepts either a host:port or a redis:// / rediss:// URL.
type RedisConfig struct {
	URL string `envconfig:"REDIS_URL" required:"true"`
}

type MongoConfig struct {
	URI      string `envconfig:"MONGO_URI" required:"true"`
	Database string `envconfig:"MONGO_DB" default:"mockcall"`
	// ForceTLS12 pins TLS 1.2 for Atlas clusters that reject newer handshakes.
	ForceTLS12  bool `envconfig:"MONGO_FORCE_TLS_CONFIG" default:"false"`
	InsecureTLS bool `envconfig:"MONGO_INSECURE_TLS" default:"false"`
}

type VertexConfig struct {
	ProjectID   string  `envconfig:"GCP_PROJECT_ID" required:"true"`
	Location    string  `envconfig:"VERTEX_LOCATION" default:"us-central1"`
	Model       string  `envconfig:"VERTEX_MODEL" default:"gemini-1.5-flash"`
	Temperature float32 `envconfig:"LLM_TEMPERATURE" default:"0.7"`
	MaxTokens   int32   `envconfig:"LLM_MAX_TOKENS" default:"300"`
}

type JWTConfig struct {
	Secret   string `envconfig:"JWT_SECRET" required:"true"`
	Issuer   string `envconfig:"JWT_ISSUER"`
	Audience string `envconfig:"JWT_AUDIENCE"`
}

// CallConfig holds the limits of a live interview call.
type CallConfig struct {
	MaxMinutes          int           `envconfig:"CALL_MAX_MINUTES" default:"15"`
	CheckWindowStart    float64       `envconfig:"CONGRUENCY_WINDOW_START_MINUTES" default:"2"`
	CheckWindowEnd      float64       `envconfig:"CONGRUENCY_WINDOW_END_MINUTES" default:"3"`
	CheckMinTurns       int           `envconfig:"CONGRUENCY_MIN_TURNS" default:"4"`
	CheckTimeout        time.Duration `envconfig:"CONGRUENCY_TIMEOUT" default:"8s"`
	ExtremeConfidence   float64       `envconfig:"CONGRUENCY_EXTREME_CONFIDENCE" default:"0.9"`
	ContextTTL          time.Duration `envconfig:"CALL_CONTEXT_TTL" default:"2h"`
	EventTTL            time.Duration `envconfig:"CALL_EVENT_TTL" default:"720h"`
	DefaultAgentID      string        `envconfig:"AGENT_ID_DEFAULT"`
	SpanishAgentID      string        `envconfig:"AGENT_ID_SPANISH"`
	SocketReadTimeout   time.Duration `envconfig:"WS_READ_TIMEOUT" default:"60s"`
	SocketWriteTimeout  time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"10s"`
	ShutdownGracePeriod time.Duration `envconfig:"SHUTDOWN_GRACE_PERIOD" default:"15s"`
}

type WorkersConfig struct {
	CreditWorkers   int    `envconfig:"CREDIT_WORKERS" default:"2"`
	FeedbackWorkers int    `envconfig:"FEEDBACK_WORKERS" default:"2"`
	CreditStream    string `envconfig:"CREDIT_RESTORE_STREAM" default:"credits:restore"`
	FeedbackStream  string `envconfig:"FEEDBACK_STREAM" default:"feedback:jobs"`
	ConsumerGroup   string `envconfig:"WORKER_GROUP" default:"mockcall"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
