package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"speakup.dev/speaking-sprint/internal/utils"
)

const (
	AuthModeFirebase = "firebase"
	AuthModeHMAC     = "hmac"

	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"

	PolicyAppend    = "append"
	PolicyOverwrite = "overwrite"

	AudioSourceInline = "inline"
	AudioSourceMinio  = "minio"
	AudioSourceLocal  = "local"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Gemini  GeminiConfig  `yaml:"gemini"`
	Auth    AuthConfig    `yaml:"auth"`
	Store   StoreConfig   `yaml:"store"`
	Audio   AudioConfig   `yaml:"audio"`
	Scoring ScoringConfig `yaml:"scoring"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	HTTPPort        string        `yaml:"http_port"        env:"HTTP_PORT"               env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"240s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     env-default:"120s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"240s"`
	FeedbackURLBase string        `yaml:"feedback_url"     env:"FEEDBACK_URL_BASE"       env-default:"/dashboard/day"`
}

// GeminiConfig configures the judge model and how hard we lean on it.
type GeminiConfig struct {
	APIKey            string        `yaml:"api_key"             env:"GEMINI_API_KEY"             env-required:"true"`
	Model             string        `yaml:"model"               env:"GEMINI_MODEL"               env-default:"gemini-2.5-flash"`
	Timeout           time.Duration `yaml:"timeout"             env:"GEMINI_TIMEOUT"             env-default:"45s"`
	MaxRetries        int           `yaml:"max_retries"         env:"GEMINI_MAX_RETRIES"         env-default:"3"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay"    env:"GEMINI_RETRY_BASE_DELAY"    env-default:"1s"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"     env:"GEMINI_RETRY_MAX_DELAY"     env-default:"8s"`
	RequestsPerMinute int           `yaml:"requests_per_minute" env:"GEMINI_REQUESTS_PER_MINUTE" env-default:"60"`
}

// Budget is the longest a single judge evaluation can take: every attempt
// running to its timeout plus the backoff between them.
func (g GeminiConfig) Budget() time.Duration {
	if g.MaxRetries < 0 {
		return g.Timeout
	}
	total := g.Timeout * time.Duration(g.MaxRetries+1)
	for i := 1; i <= g.MaxRetries; i++ {
		total += utils.Backoff(i, g.RetryBaseDelay, g.RetryMaxDelay)
	}
	return total
}

type AuthConfig struct {
	Mode      string `yaml:"mode"       env:"AUTH_MODE"       env-default:"firebase"`
	ProjectID string `yaml:"project_id" env:"AUTH_PROJECT_ID"`
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer string `yaml:"jwt_issuer" env:"JWT_ISSUER"      env-default:"speaking-sprint"`
}

type StoreConfig struct {
	Driver       string `yaml:"driver"        env:"STORE_DRIVER"  env-default:"sqlite"`
	DatabaseURL  string `yaml:"database_url"  env:"DATABASE_URL"  env-default:"speaking_sprint.db?_busy_timeout=5000"`
	ResultPolicy string `yaml:"result_policy" env:"RESULT_POLICY" env-default:"append"`
	MaxConns     int32  `yaml:"max_conns"     env:"DATABASE_MAX_CONNS" env-default:"10"`
}

type AudioConfig struct {
	Source         string `yaml:"source"          env:"AUDIO_SOURCE"          env-default:"inline"`
	MimeType       string `yaml:"mime_type"       env:"AUDIO_MIME_TYPE"       env-default:"audio/webm"`
	Extension      string `yaml:"extension"       env:"AUDIO_EXTENSION"       env-default:"webm"`
	MaxBytes       int64  `yaml:"max_bytes"       env:"AUDIO_MAX_BYTES"       env-default:"15728640"`
	LocalDir       string `yaml:"local_dir"       env:"AUDIO_LOCAL_DIR"       env-default:"recordings"`
	MinioEndpoint  string `yaml:"minio_endpoint"  env:"MINIO_ENDPOINT"`
	MinioAccessKey string `yaml:"minio_access"    env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `yaml:"minio_secret"    env:"MINIO_SECRET_KEY"`
	MinioBucket    string `yaml:"minio_bucket"    env:"MINIO_BUCKET"          env-default:"recordings"`
	MinioUseSSL    bool   `yaml:"minio_use_ssl"   env:"MINIO_USE_SSL"         env-default:"true"`
}

type ScoringConfig struct {
	Clamp bool `yaml:"clamp" env:"SCORING_CLAMP" env-default:"true"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"INFO"`
	File  string `yaml:"file"  env:"LOG_FILE"`
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg, err := Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	AppConfig = *cfg
}

// Load reads CONFIG_PATH (if set) and the environment into a validated Config.
// Environment values win over the YAML file.
func Load() (*Config, error) {
	var cfg Config

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	c.Auth.Mode = strings.ToLower(c.Auth.Mode)
	switch c.Auth.Mode {
	case AuthModeFirebase:
		if c.Auth.ProjectID == "" {
			errs = append(errs, errors.New("AUTH_PROJECT_ID is required in firebase auth mode"))
		}
	case AuthModeHMAC:
		if len(c.Auth.JWTSecret) < 32 {
			errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters in hmac auth mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AUTH_MODE %q", c.Auth.Mode))
	}

	c.Store.Driver = strings.ToLower(c.Store.Driver)
	if c.Store.Driver != StoreDriverSQLite && c.Store.Driver != StoreDriverPostgres {
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}

	c.Store.ResultPolicy = strings.ToLower(c.Store.ResultPolicy)
	if c.Store.ResultPolicy != PolicyAppend && c.Store.ResultPolicy != PolicyOverwrite {
		errs = append(errs, fmt.Errorf("unknown RESULT_POLICY %q", c.Store.ResultPolicy))
	}

	c.Audio.Source = strings.ToLower(c.Audio.Source)
	switch c.Audio.Source {
	case AudioSourceInline, AudioSourceLocal:
	case AudioSourceMinio:
		if c.Audio.MinioEndpoint == "" || c.Audio.MinioAccessKey == "" || c.Audio.MinioSecretKey == "" {
			errs = append(errs, errors.New("MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required for the minio audio source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AUDIO_SOURCE %q", c.Audio.Source))
	}
	if c.Audio.MaxBytes <= 0 {
		errs = append(errs, errors.New("AUDIO_MAX_BYTES must be positive"))
	}

	if c.Gemini.MaxRetries < 0 {
		errs = append(errs, errors.New("GEMINI_MAX_RETRIES cannot be negative"))
	}
	if c.Gemini.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("GEMINI_REQUESTS_PER_MINUTE must be positive"))
	}
	if c.Gemini.Timeout <= 0 {
		errs = append(errs, errors.New("GEMINI_TIMEOUT must be positive"))
	}

	// Responses and shutdown must both outlive one full judge run.
	budget := c.Gemini.Budget()
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= budget {
		errs = append(errs, fmt.Errorf("SERVER_WRITE_TIMEOUT %s must exceed the judge budget %s", c.Server.WriteTimeout, budget))
	}
	if c.Server.ShutdownTimeout < budget {
		errs = append(errs, fmt.Errorf("SERVER_SHUTDOWN_TIMEOUT %s must cover the judge budget %s", c.Server.ShutdownTimeout, budget))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
