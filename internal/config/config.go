package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database" validate:"required"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Storage    StorageConfig    `mapstructure:"storage" validate:"required"`
	Processing ProcessingConfig `mapstructure:"processing" validate:"required"`
	Models     []ModelConfig    `mapstructure:"models" validate:"required,min=1,dive"`
}

// APIConfig describes the service for the root endpoint.
type APIConfig struct {
	Title       string `mapstructure:"title" validate:"required"`
	Description string `mapstructure:"description"`
	Version     string `mapstructure:"version" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Host        string   `mapstructure:"host" validate:"required"`
	Port        int      `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel    string   `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	// Path is the SQLite database file, or ":memory:" for an in-memory
	// database.
	Path string `mapstructure:"path" validate:"required"`
}

// AuthConfig contains all authentication settings. When Disabled is set
// the API accepts unauthenticated requests.
type AuthConfig struct {
	Disabled             bool   `mapstructure:"disabled"`
	JWTSecret            string `mapstructure:"jwt_secret"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"gt=0"`
}

// StorageConfig selects and configures the artifact storage backend.
type StorageConfig struct {
	Backend  string   `mapstructure:"backend" validate:"required,oneof=local s3"`
	LocalDir string   `mapstructure:"local_dir"`
	S3       S3Config `mapstructure:"s3"`
}

// S3Config configures the S3 storage backend. Endpoint is empty for AWS
// and set for S3-compatible services such as MinIO.
type S3Config struct {
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	Endpoint         string `mapstructure:"endpoint"`
	AccessKey        string `mapstructure:"access_key"`
	SecretKey        string `mapstructure:"secret_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	KeyPrefix        string `mapstructure:"key_prefix"`
	URLExpiryMinutes int    `mapstructure:"url_expiry_minutes" validate:"gte=0"`
}

// ProcessingConfig bounds the processing pipeline.
type ProcessingConfig struct {
	// FTWBinary is the field delineation CLI invoked by the engine.
	FTWBinary string `mapstructure:"ftw_binary" validate:"required"`

	// GPU selects the GPU device passed to the inference tooling. Nil
	// runs on CPU.
	GPU *int `mapstructure:"gpu"`

	// MaxConcurrent bounds how many inference or polygonization runs
	// execute at once, across background tasks and example requests.
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"gt=0"`

	// TaskWorkers and QueueSize size the background task scheduler.
	TaskWorkers int `mapstructure:"task_workers" validate:"gt=0"`
	QueueSize   int `mapstructure:"queue_size" validate:"gt=0"`

	// ExampleEnabled turns the synchronous example endpoint on.
	ExampleEnabled        bool `mapstructure:"example_enabled"`
	ExampleTimeoutSeconds int  `mapstructure:"example_timeout_seconds" validate:"gt=0"`

	// Area limits in square kilometers.
	MinAreaKm2        float64 `mapstructure:"min_area_km2" validate:"gt=0"`
	ExampleMaxAreaKm2 float64 `mapstructure:"example_max_area_km2" validate:"gt=0"`
	ProjectMaxAreaKm2 float64 `mapstructure:"project_max_area_km2" validate:"gt=0"`

	// ModelsDir is the directory relative model files resolve against.
	ModelsDir string `mapstructure:"models_dir" validate:"required"`
}

// ModelConfig describes one deployable model checkpoint.
type ModelConfig struct {
	ID                 string `mapstructure:"id" validate:"required"`
	Title              string `mapstructure:"title" validate:"required"`
	Description        string `mapstructure:"description"`
	License            string `mapstructure:"license"`
	Version            string `mapstructure:"version"`
	File               string `mapstructure:"file" validate:"required"`
	RequiresWindow     bool   `mapstructure:"requires_window"`
	RequiresPolygonize bool   `mapstructure:"requires_polygonize"`
}

// TokenLifetime returns the access token lifetime as a duration.
func (c AuthConfig) TokenLifetime() time.Duration {
	return time.Duration(c.TokenLifetimeMinutes) * time.Minute
}

// ExampleTimeout returns the example wall-clock limit as a duration.
func (c ProcessingConfig) ExampleTimeout() time.Duration {
	return time.Duration(c.ExampleTimeoutSeconds) * time.Second
}

// URLExpiry returns the presigned URL lifetime as a duration.
func (c S3Config) URLExpiry() time.Duration {
	return time.Duration(c.URLExpiryMinutes) * time.Minute
}
