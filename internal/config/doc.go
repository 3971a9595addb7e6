// Package config loads and validates the service configuration from a
// YAML file and FTW_-prefixed environment variables. It exposes typed
// settings for the server, storage, authentication, the processing
// pipeline and the model registry.
package config
