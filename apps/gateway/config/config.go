// Package config defines apps/gateway's environment-driven configuration.
package config

import (
	"github.com/antinvestor/remediation-run-engine/internal/runconfig"
)

// GatewayConfig is the boundary HTTP surface's configuration: the engine's
// shared config (it constructs the same statestore/metrics views the
// worker does) plus the guardrails and upload limits that only apply at
// the HTTP edge.
type GatewayConfig struct {
	runconfig.EngineConfig

	// RateLimitRequestsPerMinute and RateLimitBurstSize configure the
	// per-client token bucket guardrail.
	RateLimitRequestsPerMinute int `envDefault:"60" env:"RATE_LIMIT_REQUESTS_PER_MINUTE"`
	RateLimitBurstSize         int `envDefault:"10" env:"RATE_LIMIT_BURST_SIZE"`

	// BearerToken, when set, is required on every request via
	// Authorization: Bearer <token>. Empty disables the check.
	BearerToken string `env:"GATEWAY_BEARER_TOKEN"`

	// AllowedOrigin, when set, is the only Origin header value accepted on
	// browser-originating requests. Empty disables the check.
	AllowedOrigin string `envDefault:"" env:"GATEWAY_ALLOWED_ORIGIN"`

	// MaxUploadSizeBytes and MaxUploadRows bound a findings CSV upload.
	MaxUploadSizeBytes int64 `envDefault:"10485760" env:"MAX_UPLOAD_SIZE_BYTES"`
	MaxUploadRows      int   `envDefault:"5000" env:"MAX_UPLOAD_ROWS"`

	// WorkerBinaryPath is the apps/worker executable the upload handler
	// spawns, detached, for every new run.
	WorkerBinaryPath string `envDefault:"./worker" env:"WORKER_BINARY_PATH"`
}
