package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries every tunable the service reads from the environment.
type Config struct {
	AppEnv  string `env:"APP_ENV" envDefault:"dev"`
	APIAddr string `env:"API_ADDR" envDefault:":8081"`

	// Job store backend: memory, redis, or postgres. Memory is a single
	// logical authority and must not be load-balanced across instances;
	// redis and postgres share the job map so any instance can serve a
	// poll for a job created elsewhere.
	StoreBackend  string `env:"STORE_BACKEND" envDefault:"memory"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	PostgresDSN   string `env:"POSTGRES_DSN"`

	MaxUploadBytes    int64 `env:"MAX_UPLOAD_BYTES" envDefault:"104857600"`
	MaxConcurrentJobs int64 `env:"MAX_CONCURRENT_JOBS" envDefault:"4"`

	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"5m"`
	CleanupMaxAge   time.Duration `env:"CLEANUP_MAX_AGE" envDefault:"1h"`
	// Age threshold for jobs still PROCESSING. Zero disables their
	// eviction entirely; set equal to CLEANUP_MAX_AGE for the uniform
	// policy.
	CleanupProcessingMaxAge time.Duration `env:"CLEANUP_PROCESSING_MAX_AGE" envDefault:"3h"`

	WhisperPath string `env:"WHISPER_PATH" envDefault:"whisper-cli"`
	FFmpegPath  string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	ModelPath   string `env:"MODEL_PATH"`

	GatewayAddr        string        `env:"GATEWAY_ADDR" envDefault:":8080"`
	UpstreamURL        string        `env:"UPSTREAM_URL" envDefault:"http://localhost:8081"`
	PoolMaxConns       int           `env:"POOL_MAX_CONNS" envDefault:"100"`
	PoolMaxPerHost     int           `env:"POOL_MAX_PER_HOST" envDefault:"20"`
	PoolIdleTimeout    time.Duration `env:"POOL_IDLE_TIMEOUT" envDefault:"90s"`
	ConnectTimeout     time.Duration `env:"CONNECT_TIMEOUT" envDefault:"3s"`
	ReadTimeout        time.Duration `env:"READ_TIMEOUT" envDefault:"120s"`

	PollInitialInterval  time.Duration `env:"POLL_INITIAL_INTERVAL" envDefault:"1s"`
	PollMaxInterval      time.Duration `env:"POLL_MAX_INTERVAL" envDefault:"10s"`
	PollBackoffIncrement time.Duration `env:"POLL_BACKOFF_INCREMENT" envDefault:"500ms"`
	PollMaxDuration      time.Duration `env:"POLL_MAX_DURATION" envDefault:"30m"`
	PollStallThreshold   time.Duration `env:"POLL_STALL_THRESHOLD" envDefault:"5m"`
	PollErrorTolerance   int           `env:"POLL_ERROR_TOLERANCE" envDefault:"5"`
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}
