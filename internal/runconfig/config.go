// Package runconfig holds the engine's environment-driven configuration,
// shared by every apps/* entry point.
package runconfig

import (
	"strings"

	"github.com/pitabwire/frame/config"
)

// EngineConfig defines the run engine's configuration, recognized via
// environment variables.
type EngineConfig struct {
	config.ConfigurationDefault

	MaxParallelSessions     int     `envDefault:"10" env:"MAX_PARALLEL_SESSIONS"`
	MaxACUPerSession        int     `envDefault:"5" env:"MAX_ACU_PER_SESSION"`
	PollIntervalSeconds     int     `envDefault:"20" env:"POLL_INTERVAL_SECONDS"`
	SessionTimeoutMinutes   int     `envDefault:"90" env:"SESSION_TIMEOUT_MINUTES"`
	MinSuccessRate          float64 `envDefault:"0.7" env:"MIN_SUCCESS_RATE"`
	WaveSize                int     `envDefault:"10" env:"WAVE_SIZE"`
	StateFilePath           string  `envDefault:"./state.json" env:"STATE_FILE_PATH"`
	RunsDir                 string  `envDefault:"./runs" env:"RUNS_DIR"`
	MemoryDir               string  `envDefault:"./memory" env:"MEMORY_DIR"`
	PlaybooksDir            string  `envDefault:"./playbooks" env:"PLAYBOOKS_DIR"`
	HybridMode              bool    `envDefault:"false" env:"HYBRID_MODE"`
	ConnectedReposRaw       string  `envDefault:"" env:"CONNECTED_REPOS"`
	CircuitBreakerThreshold int     `envDefault:"5" env:"CIRCUIT_BREAKER_THRESHOLD"`
	CircuitBreakerCooldownS int     `envDefault:"30" env:"CIRCUIT_BREAKER_COOLDOWN_SECONDS"`
	MaxRetries              int     `envDefault:"3" env:"MAX_RETRIES"`
	RetryJitterMaxSeconds   float64 `envDefault:"1.0" env:"RETRY_JITTER_MAX_SECONDS"`

	AgentAPIKey     string `env:"AGENT_API_KEY"`
	AgentBaseURL    string `envDefault:"https://api.agentplatform.example/v1" env:"AGENT_BASE_URL"`
	MockMode        bool   `envDefault:"true" env:"MOCK_MODE"`
	MockSeed        int64  `envDefault:"0" env:"MOCK_SEED"`

	RedisLedgerURL string `env:"REDIS_LEDGER_URL"`
}

// ConnectedRepos parses the comma-separated CONNECTED_REPOS list.
func (c *EngineConfig) ConnectedRepos() []string {
	if strings.TrimSpace(c.ConnectedReposRaw) == "" {
		return nil
	}
	parts := strings.Split(c.ConnectedReposRaw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Mode returns the configured data source mode for the run.
func (c *EngineConfig) Mode() string {
	switch {
	case c.HybridMode:
		return "hybrid"
	case c.MockMode:
		return "mock"
	default:
		return "live"
	}
}
