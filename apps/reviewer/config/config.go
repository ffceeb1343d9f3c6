// Package config defines the reviewer CLI's configuration, limited to what
// internal/review needs to locate and lock run state — this tool has no
// queues, no kill switch, and no risk-scoring thresholds to carry.
package config

import (
	"github.com/antinvestor/remediation-run-engine/internal/runconfig"
)

// ReviewerConfig is the environment-driven configuration for the reviewer
// CLI. It embeds the same engine config the gateway and worker use so the
// three entry points agree on where runs live on disk.
type ReviewerConfig struct {
	runconfig.EngineConfig
}
