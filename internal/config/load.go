package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// An explicit config file must exist; a discovered one is optional.
	if path := os.Getenv("FTW_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("FTW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	resolveModelFiles(&cfg)
	return &cfg, nil
}

// setDefaults registers a default for every known key so environment
// variables bind even without a config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("api.title", "Fields of the World - Inference API")
	v.SetDefault("api.description", "A service for field boundary inference from satellite images.")
	v.SetDefault("api.version", "0.1.0")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.path", "data/ftw_inference.db")

	v.SetDefault("auth.disabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime_minutes", 30)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "data/storage")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.use_ssl", true)
	v.SetDefault("storage.s3.key_prefix", "")
	v.SetDefault("storage.s3.url_expiry_minutes", 60)

	v.SetDefault("processing.ftw_binary", "ftw")
	v.SetDefault("processing.max_concurrent", 2)
	v.SetDefault("processing.task_workers", 2)
	v.SetDefault("processing.queue_size", 100)
	v.SetDefault("processing.example_enabled", true)
	v.SetDefault("processing.example_timeout_seconds", 60)
	v.SetDefault("processing.min_area_km2", 0.1)
	v.SetDefault("processing.example_max_area_km2", 500.0)
	v.SetDefault("processing.project_max_area_km2", 3000.0)
	v.SetDefault("processing.models_dir", "data/models")
}

// validate checks structural constraints and the cross-field rules the
// struct tags cannot express.
func validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if !cfg.Auth.Disabled && len(cfg.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters when authentication is enabled")
	}

	if cfg.Storage.Backend == "s3" && cfg.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
	}
	if cfg.Storage.Backend == "local" && cfg.Storage.LocalDir == "" {
		return fmt.Errorf("storage.local_dir is required for the local backend")
	}

	seen := make(map[string]bool, len(cfg.Models))
	for _, m := range cfg.Models {
		if seen[m.ID] {
			return fmt.Errorf("duplicate model ID %q in configuration", m.ID)
		}
		seen[m.ID] = true
	}

	return nil
}

// resolveModelFiles turns relative model checkpoint paths into paths under
// the models directory.
func resolveModelFiles(cfg *Config) {
	for i := range cfg.Models {
		if !filepath.IsAbs(cfg.Models[i].File) {
			cfg.Models[i].File = filepath.Join(cfg.Processing.ModelsDir, cfg.Models[i].File)
		}
	}
}
