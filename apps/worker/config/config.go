// Package config defines apps/worker's environment-driven configuration.
package config

import (
	"github.com/antinvestor/remediation-run-engine/internal/runconfig"
)

// WorkerConfig is the per-run supervisor's configuration, identical to the
// engine's shared config since the worker process is itself the engine.
type WorkerConfig struct {
	runconfig.EngineConfig
}
