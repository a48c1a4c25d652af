// Package config defines the service configuration and how it is loaded.
package config

import (
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `koanf:"addr"`

	// GRPCAddr is the gRPC health service listen address. Empty disables it.
	GRPCAddr string `koanf:"grpc_addr"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// CheckpointPath points at the torch.save checkpoint.
	CheckpointPath string `koanf:"checkpoint_path"`

	// RedisAddr enables the prediction cache when set.
	RedisAddr string `koanf:"redis_addr"`

	// CacheTTL bounds how long a cached prediction is served.
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// WorkerCount caps concurrent predictions in one batch request.
	WorkerCount int `koanf:"worker_count"`

	// MaxUploadBytes caps a single request body.
	MaxUploadBytes int64 `koanf:"max_upload_bytes"`

	// MaxPixels caps the declared width*height of an uploaded image.
	MaxPixels int64 `koanf:"max_pixels"`

	// JWTSecret enables bearer authentication on prediction routes when set.
	JWTSecret string `koanf:"jwt_secret"`

	// JWTAudience, when set, must appear in the token's aud claim.
	JWTAudience string `koanf:"jwt_audience"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Addr:            ":8080",
		GRPCAddr:        ":50051",
		LogLevel:        "info",
		CheckpointPath:  "models/best_model.pth",
		CacheTTL:        10 * time.Minute,
		WorkerCount:     runtime.NumCPU(),
		MaxUploadBytes:  32 << 20,
		MaxPixels:       50_000_000,
		ShutdownTimeout: 15 * time.Second,
	}
}
