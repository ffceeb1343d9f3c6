package metrics

import (
	"sort"
	"time"

	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

const (
	minutesPerComputeUnit = 15.0
	minElapsedMinutes     = 1.0
)

// OpsMetrics is the /ops response: timing, throughput, and budget figures
// derived from a single BatchRun snapshot.
type OpsMetrics struct {
	P50DurationMins    *float64 `json:"p50_duration_minutes"`
	P95DurationMins    *float64 `json:"p95_duration_minutes"`
	AvgDurationMins    *float64 `json:"avg_duration_minutes"`
	MinDurationMins    *float64 `json:"min_duration_minutes"`
	MaxDurationMins    *float64 `json:"max_duration_minutes"`
	SessionsPerHour    *float64 `json:"sessions_per_hour"`
	ProjectedRemaining *float64 `json:"projected_remaining_minutes"`
	EstimatedUnitsUsed float64  `json:"estimated_compute_units_used"`
	EstimatedBudget    int      `json:"estimated_budget_units"`
	BurnRatePerHour    *float64 `json:"burn_rate_per_hour"`
	CurrentWave        int      `json:"current_wave"`
	ElapsedMinutes     float64  `json:"elapsed_minutes"`
}

// Ops computes operational metrics for run as observed at now, against a
// budget of maxUnitsPerSession compute units per finding.
func Ops(run *runmodel.BatchRun, maxUnitsPerSession int, now time.Time) OpsMetrics {
	if run == nil {
		return OpsMetrics{}
	}

	var durations []float64
	var unitsUsed float64
	terminalCount := 0
	for _, w := range run.Waves {
		for _, s := range w.Sessions {
			if !s.Status.Terminal() || s.CompletedAt == nil {
				continue
			}
			terminalCount++
			d := s.CompletedAt.Sub(s.CreatedAt).Minutes()
			durations = append(durations, d)
			unitsUsed += d / minutesPerComputeUnit
		}
	}

	out := OpsMetrics{
		EstimatedUnitsUsed: unitsUsed,
		EstimatedBudget:    run.TotalFindings * maxUnitsPerSession,
		CurrentWave:        run.CurrentWave(),
		ElapsedMinutes:     now.Sub(run.StartedAt).Minutes(),
	}

	if len(durations) > 0 {
		sorted := append([]float64(nil), durations...)
		sort.Float64s(sorted)
		p50, p95 := percentile(sorted, 50), percentile(sorted, 95)
		avg, minV, maxV := mean(sorted), sorted[0], sorted[len(sorted)-1]
		out.P50DurationMins, out.P95DurationMins = &p50, &p95
		out.AvgDurationMins, out.MinDurationMins, out.MaxDurationMins = &avg, &minV, &maxV
	}

	if out.ElapsedMinutes >= minElapsedMinutes {
		elapsedHours := out.ElapsedMinutes / 60
		throughput := float64(terminalCount) / elapsedHours
		out.SessionsPerHour = &throughput

		burnRate := unitsUsed / elapsedHours
		out.BurnRatePerHour = &burnRate

		if throughput > 0 {
			remaining := run.TotalFindings - run.Completed
			projected := float64(remaining) / throughput * 60
			out.ProjectedRemaining = &projected
		}
	}

	return out
}
