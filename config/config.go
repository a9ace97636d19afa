package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type (
	Config struct {
		HTTP             HTTP
		Log              Log
		PG               PG
		S3               S3
		Redis            Redis
		Kafka            Kafka
		GenAI            GenAI
		Fetcher          Fetcher
		Quota            Quota
		PrepWorker       PrepWorker
		OutboxRelay      OutboxRelay
		RenderController RenderController
		Swagger          Swagger
	}

	HTTP struct {
		Port           string `env:"HTTP_PORT,required"`
		UsePreforkMode bool   `env:"HTTP_USE_PREFORK_MODE" envDefault:"false"`
	}

	Log struct {
		Level string `env:"LOG_LEVEL,required"`
	}

	PG struct {
		PoolMax int    `env:"PG_POOL_MAX,required"`
		URL     string `env:"PG_URL,required"`
	}

	S3 struct {
		Endpoint       string        `env:"S3_ENDPOINT,required"`
		AccessKey      string        `env:"S3_ACCESS_KEY,required"`
		SecretKey      string        `env:"S3_SECRET_KEY,required"`
		Bucket         string        `env:"S3_BUCKET,required"`
		CfgLoadTimeout time.Duration `env:"S3_LOAD_CFG_TIMEOUT" envDefault:"10s"`
		SignedURLTTL   time.Duration `env:"S3_SIGNED_URL_TTL" envDefault:"1h"`
	}

	Redis struct {
		Addr     string `env:"REDIS_ADDR,required"`
		Password string `env:"REDIS_PASSWORD" envDefault:""`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
	}

	Kafka struct {
		Brokers     []string `env:"KAFKA_BROKERS,required"`
		GroupID     string   `env:"KAFKA_GROUP_ID,required"`
		JobsTopic   string   `env:"KAFKA_JOBS_TOPIC,required"`
		EventsTopic string   `env:"KAFKA_EVENTS_TOPIC,required"`
	}

	GenAI struct {
		APIKey           string        `env:"GENAI_API_KEY,required"`
		Model            string        `env:"GENAI_MODEL" envDefault:"gemini-2.0-flash-exp"`
		RemovalTimeout   time.Duration `env:"GENAI_REMOVAL_TIMEOUT" envDefault:"30s"`
		CompositeTimeout time.Duration `env:"GENAI_COMPOSITE_TIMEOUT" envDefault:"90s"`
	}

	Fetcher struct {
		Timeout  time.Duration `env:"FETCHER_TIMEOUT" envDefault:"20s"`
		MaxBytes int64         `env:"FETCHER_MAX_BYTES" envDefault:"20971520"`
	}

	// Quota holds the per-tenant daily limits. One flat tier for now; plan
	// tiers would move these to a table keyed by tenant.
	Quota struct {
		RenderLimit  int `env:"QUOTA_RENDER_LIMIT" envDefault:"50"`
		PrepLimit    int `env:"QUOTA_PREP_LIMIT" envDefault:"200"`
		CleanupLimit int `env:"QUOTA_CLEANUP_LIMIT" envDefault:"20"`
	}

	PrepWorker struct {
		PollInterval        time.Duration `env:"PREP_WORKER_POLL_INTERVAL" envDefault:"2s"`
		ProcessBatchTimeout time.Duration `env:"PREP_WORKER_PROCESS_BATCH_TIMEOUT" envDefault:"5m"`
		ShutdownTimeout     time.Duration `env:"PREP_WORKER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
		BatchSize           int           `env:"PREP_WORKER_BATCH_SIZE" envDefault:"5"`
		MaxAttempts         int           `env:"PREP_WORKER_MAX_ATTEMPTS" envDefault:"3"`
		ClaimLease          time.Duration `env:"PREP_WORKER_CLAIM_LEASE" envDefault:"10m"`
	}

	OutboxRelay struct {
		PollInterval        time.Duration `env:"OUTBOX_RELAY_POLL_INTERVAL" envDefault:"2s"`
		MarkFailedInterval  time.Duration `env:"OUTBOX_RELAY_MARK_FAILED_INTERVAL" envDefault:"2m"`
		CleanupInterval     time.Duration `env:"OUTBOX_RELAY_CLEANUP_INTERVAL" envDefault:"24h"`
		ProcessBatchTimeout time.Duration `env:"OUTBOX_RELAY_PROCESS_BATCH_TIMEOUT" envDefault:"15s"`
		ShutdownTimeout     time.Duration `env:"OUTBOX_RELAY_SHUTDOWN_TIMEOUT" envDefault:"5s"`
		BatchSize           int           `env:"OUTBOX_RELAY_BATCH_SIZE" envDefault:"100"`
		MaxRetries          int           `env:"OUTBOX_RELAY_MAX_RETRIES" envDefault:"3"`
	}

	RenderController struct {
		CommitTimeout   time.Duration `env:"RENDER_CONTROLLER_COMMIT_TIMEOUT" envDefault:"2s"`
		ProcessTimeout  time.Duration `env:"RENDER_CONTROLLER_PROCESS_TIMEOUT" envDefault:"3m"` // full job: signing, provider call, upload, bookkeeping
		ShutdownTimeout time.Duration `env:"RENDER_CONTROLLER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
		Workers         int           `env:"RENDER_CONTROLLER_WORKERS" envDefault:"4"`
	}

	Swagger struct {
		Enabled bool `env:"SWAGGER_ENABLED" envDefault:"false"`
	}
)

func New() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	return cfg, nil
}
