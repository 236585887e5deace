package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const DefaultPath = "configs/config.yaml"

const (
	BackendWhisper   = "whisper"
	BackendSpeechKit = "speechkit"
)

// telegramMessageMax is the hard cap Telegram puts on a text message.
const telegramMessageMax = 4096

type Config struct {
	Telegram struct {
		Token       string        `yaml:"token" env:"BOT_TOKEN"`
		PollTimeout time.Duration `yaml:"poll_timeout" env:"TELEGRAM_POLL_TIMEOUT" env-default:"10s"`
		SendRate    float64       `yaml:"send_rate" env:"TELEGRAM_SEND_RATE" env-default:"25"`
		SendBurst   int           `yaml:"send_burst" env:"TELEGRAM_SEND_BURST" env-default:"5"`
	} `yaml:"telegram"`

	Access struct {
		AllowedChats []int64 `yaml:"allowed_chats" env:"ALLOWED_CHATS" env-separator:","`
		AdminID      int64   `yaml:"admin_id" env:"ADMIN_ID" env-default:"0"`
	} `yaml:"access"`

	RateLimit struct {
		Requests int `yaml:"requests" env:"RATE_LIMIT_REQUESTS" env-default:"3"`
		Window   int `yaml:"window" env:"RATE_LIMIT_WINDOW" env-default:"60"` // seconds
	} `yaml:"rate_limit"`

	Limits struct {
		MessageLimit     int `yaml:"message_limit" env:"MESSAGE_LIMIT" env-default:"4000"`
		MaxVoiceDuration int `yaml:"max_voice_duration" env:"MAX_VOICE_DURATION" env-default:"300"` // seconds
	} `yaml:"limits"`

	Worker struct {
		MaxWorkers   int           `yaml:"max_workers" env:"MAX_WORKERS" env-default:"1"`
		DownloadDir  string        `yaml:"download_dir" env:"DOWNLOAD_DIR" env-default:"downloads"`
		DrainTimeout time.Duration `yaml:"drain_timeout" env:"DRAIN_TIMEOUT" env-default:"5m"`
	} `yaml:"worker"`

	Engine struct {
		Backend string `yaml:"backend" env:"ENGINE_BACKEND" env-default:"whisper"`
	} `yaml:"engine"`

	Whisper struct {
		URL           string            `yaml:"url" env:"WHISPER_URL" env-default:"http://localhost:8387"`
		Model         string            `yaml:"model" env:"MODEL_SIZE" env-default:"medium"`
		Language      string            `yaml:"language" env:"WHISPER_LANGUAGE" env-default:"ru"`
		InitialPrompt string            `yaml:"initial_prompt" env:"INITIAL_PROMPT"`
		Timeout       time.Duration     `yaml:"timeout" env:"WHISPER_TIMEOUT" env-default:"10m"`
		Decoding      map[string]string `yaml:"decoding" env:"WHISPER_DECODING" env-separator:","`
	} `yaml:"whisper"`

	SpeechKit struct {
		FolderID     string        `yaml:"folder_id" env:"YANDEX_FOLDER_ID"`
		APIKey       string        `yaml:"api_key" env:"YANDEX_API_KEY"`
		Language     string        `yaml:"language" env:"YANDEX_LANGUAGE" env-default:"ru-RU"`
		PollInterval time.Duration `yaml:"poll_interval" env:"YANDEX_POLL_INTERVAL" env-default:"5s"`
		MaxWait      time.Duration `yaml:"max_wait" env:"YANDEX_MAX_WAIT" env-default:"30m"`
	} `yaml:"speechkit"`

	S3 struct {
		Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:"https://storage.yandexcloud.net"`
		Region    string `yaml:"region" env:"S3_REGION" env-default:"ru-central1"`
		AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY"`
		Bucket    string `yaml:"bucket" env:"S3_BUCKET"`
	} `yaml:"s3"`

	Postgres struct {
		DSN            string `yaml:"dsn" env:"DATABASE_URL"`
		MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
	} `yaml:"postgres"`

	Redis struct {
		Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
		Password string        `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
		DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
		TTL      time.Duration `yaml:"ttl" env:"REDIS_TTL" env-default:"168h"`
	} `yaml:"redis"`

	RabbitMQ struct {
		URL string `yaml:"url" env:"RABBITMQ_URL"`
	} `yaml:"rabbitmq"`

	Sentry struct {
		DSN         string `yaml:"dsn" env:"SENTRY_DSN"`
		Environment string `yaml:"environment" env:"SENTRY_ENVIRONMENT" env-default:"production"`
	} `yaml:"sentry"`

	HTTP struct {
		Addr string `yaml:"addr" env:"HTTP_ADDR" env-default:":9090"`
	} `yaml:"http"`

	Log struct {
		Debug bool `yaml:"debug" env:"LOG_DEBUG" env-default:"false"`
	} `yaml:"log"`
}

// LoadConfig reads path when it exists and the environment otherwise;
// environment variables always win over file values. A .env file is the
// caller's to load.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := os.Stat(path); path != "" && err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return errors.New("BOT_TOKEN is required")
	}
	if c.Telegram.SendRate <= 0 {
		return fmt.Errorf("telegram send_rate must be positive, got %v", c.Telegram.SendRate)
	}
	if c.Telegram.SendBurst < 1 {
		return fmt.Errorf("telegram send_burst must be at least 1, got %d", c.Telegram.SendBurst)
	}

	if c.RateLimit.Requests < 1 {
		return fmt.Errorf("rate_limit requests must be at least 1, got %d", c.RateLimit.Requests)
	}
	if c.RateLimit.Window < 1 {
		return fmt.Errorf("rate_limit window must be at least 1 second, got %d", c.RateLimit.Window)
	}

	if c.Limits.MessageLimit < 1 || c.Limits.MessageLimit > telegramMessageMax {
		return fmt.Errorf("message_limit must be between 1 and %d, got %d", telegramMessageMax, c.Limits.MessageLimit)
	}
	if c.Limits.MaxVoiceDuration < 1 {
		return fmt.Errorf("max_voice_duration must be at least 1 second, got %d", c.Limits.MaxVoiceDuration)
	}

	if c.Worker.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1, got %d", c.Worker.MaxWorkers)
	}
	if c.Worker.DownloadDir == "" {
		return errors.New("download_dir cannot be empty")
	}

	switch c.Engine.Backend {
	case BackendWhisper:
		if c.Whisper.URL == "" {
			return errors.New("whisper url cannot be empty")
		}
	case BackendSpeechKit:
		if c.SpeechKit.APIKey == "" || c.SpeechKit.FolderID == "" {
			return errors.New("speechkit api_key and folder_id are required")
		}
		if c.S3.Bucket == "" || c.S3.AccessKey == "" || c.S3.SecretKey == "" {
			return errors.New("s3 bucket, access_key and secret_key are required for speechkit")
		}
	default:
		return fmt.Errorf("engine backend must be %q or %q, got %q", BackendWhisper, BackendSpeechKit, c.Engine.Backend)
	}

	return nil
}

// RateWindow returns the rate limit window as a time.Duration
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit.Window) * time.Second
}
