package httpserver

import (
	"log/slog"
	"time"
)

// HTTPServerConfig contains all configuration parameters for the HTTP server.
type HTTPServerConfig struct {
	// ListenAddr is the address and port the HTTP server will listen on.
	ListenAddr string

	// MetricsAddr is the address and port for the metrics server.
	// If empty, metrics server will not be started.
	MetricsAddr string

	// EnablePprof enables the pprof debugging API when true.
	EnablePprof bool

	// Log is the structured logger for server operations.
	Log *slog.Logger

	// DrainDuration is the time to wait after marking server not ready
	// before shutting down, allowing load balancers to detect the change.
	DrainDuration time.Duration

	// GracefulShutdownDuration is the maximum time to wait for in-flight
	// requests to complete during shutdown.
	GracefulShutdownDuration time.Duration

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of
	// the response.
	WriteTimeout time.Duration

	// JWTSecret enables bearer token authentication of the storage API
	// when non-empty. Tokens must be HS256 signed with this secret.
	JWTSecret string

	// AllowedOrigins is the CORS origin allowlist. Empty allows any origin.
	AllowedOrigins []string

	// Health configures /health and /health/cascade.
	Health HealthConfig
}

// HealthConfig describes this service and the services it depends on.
type HealthConfig struct {
	AppName string
	Commit  string

	// MaxCascade is the deepest cascade depth accepted.
	MaxCascade int

	// Dependencies maps a dependency name to its base URL.
	Dependencies map[string]string

	// Timeout bounds each dependency health request.
	Timeout time.Duration
}
