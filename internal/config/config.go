package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir     string        `mapstructure:"MIGRATIONS_DIR"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL       string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	BlobBackend       string        `mapstructure:"BLOB_BACKEND"`
	BlobDir           string        `mapstructure:"BLOB_DIR"`
	MaxUploadBytes    int64         `mapstructure:"MAX_UPLOAD_BYTES"`
	ModelPath         string        `mapstructure:"MODEL_PATH"`
	ModelURL          string        `mapstructure:"MODEL_URL"`
	ModelOutput       string        `mapstructure:"MODEL_OUTPUT"`
	ModelPreload      bool          `mapstructure:"MODEL_PRELOAD"`
	GeminiAPIKey      string        `mapstructure:"GEMINI_API_KEY"`
	GeminiModel       string        `mapstructure:"GEMINI_MODEL"`
	NarrativeTimeout  time.Duration `mapstructure:"NARRATIVE_TIMEOUT"`
	NarrativeRequired bool          `mapstructure:"NARRATIVE_REQUIRED"`
}

// Load reads configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

// LoadOffline is Load without the database requirement, for commands that
// only run the image pipeline.
func LoadOffline() (*Config, error) {
	return load()
}

func load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BLOB_BACKEND", "memory")
	v.SetDefault("BLOB_DIR", "./data/blobs")
	v.SetDefault("MAX_UPLOAD_BYTES", 20*1024*1024)
	v.SetDefault("MODEL_PATH", "./models/chexnet.onnx")
	v.SetDefault("MODEL_OUTPUT", "probabilities")
	v.SetDefault("GEMINI_MODEL", "gemini-2.0-flash")
	v.SetDefault("NARRATIVE_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
		"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
		"BLOB_BACKEND", "BLOB_DIR", "MAX_UPLOAD_BYTES",
		"MODEL_PATH", "MODEL_URL", "MODEL_OUTPUT", "MODEL_PRELOAD",
		"GEMINI_API_KEY", "GEMINI_MODEL", "NARRATIVE_TIMEOUT", "NARRATIVE_REQUIRED",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// NarrativeEnabled reports whether a text-generation backend is configured.
func (c *Config) NarrativeEnabled() bool {
	return c.GeminiAPIKey != ""
}

// Validate checks that the configuration is safe to run. Outside development
// either AUTH_SIGNING_KEY or AUTH_ISSUER/AUTH_JWKS_URL must be set so that
// bearer tokens are verified.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthIssuer == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_ISSUER must be set when ENV=%q", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters in production")
	}

	switch c.BlobBackend {
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("BLOB_BACKEND=memory is not allowed in production")
		}
	case "disk":
		if c.BlobDir == "" {
			return fmt.Errorf("BLOB_DIR is required when BLOB_BACKEND is \"disk\"")
		}
	default:
		return fmt.Errorf("BLOB_BACKEND must be \"memory\" or \"disk\", got %q", c.BlobBackend)
	}

	if c.ModelOutput != "probabilities" && c.ModelOutput != "logits" {
		return fmt.Errorf("MODEL_OUTPUT must be \"probabilities\" or \"logits\", got %q", c.ModelOutput)
	}
	if c.ModelPath == "" {
		return fmt.Errorf("MODEL_PATH is required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.NarrativeTimeout <= 0 {
		return fmt.Errorf("NARRATIVE_TIMEOUT must be positive")
	}
	if c.NarrativeRequired && !c.NarrativeEnabled() {
		return fmt.Errorf("GEMINI_API_KEY is required when NARRATIVE_REQUIRED is true")
	}

	return nil
}
