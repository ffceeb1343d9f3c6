// Package metrics computes the read-only evaluation and operational views
// derived from a BatchRun, served by the gateway's /eval and /ops endpoints.
package metrics

import (
	"sort"

	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

// HealthLabel classifies a category's pass rate.
type HealthLabel string

const (
	HealthHealthy          HealthLabel = "healthy"
	HealthDegraded         HealthLabel = "degraded"
	HealthCritical         HealthLabel = "critical"
	HealthInsufficientData HealthLabel = "insufficient_data"
)

// healthRank orders labels for the critical-first sort: critical and
// degraded are actionable, insufficient_data is a shrug, healthy needs no
// attention at all.
var healthRank = map[HealthLabel]int{
	HealthCritical:         0,
	HealthDegraded:         1,
	HealthInsufficientData: 2,
	HealthHealthy:          3,
}

var confidenceScore = map[runmodel.Confidence]float64{
	runmodel.ConfidenceHigh:   1.0,
	runmodel.ConfidenceMedium: 0.5,
	runmodel.ConfidenceLow:    0.25,
}

const minSessionsForHealth = 3

// CategoryMetrics is one row of the /eval response.
type CategoryMetrics struct {
	Category        runmodel.Category `json:"category"`
	Total           int               `json:"total"`
	Succeeded       int               `json:"succeeded"`
	Failed          int               `json:"failed"`
	PassRate        *float64          `json:"pass_rate"`
	AvgDurationMins *float64          `json:"avg_duration_minutes"`
	RetryCount      int               `json:"retry_count"`
	AvgConfidence   *float64          `json:"avg_confidence"`
	Health          HealthLabel       `json:"health"`
}

func isFailedOutcome(s runmodel.SessionStatus) bool {
	return s == runmodel.StatusFailed || s == runmodel.StatusTimeout || s == runmodel.StatusBlocked
}

// Eval computes per-category metrics over every session in run, sorted
// critical-first.
func Eval(run *runmodel.BatchRun) []CategoryMetrics {
	if run == nil {
		return nil
	}

	byCategory := make(map[runmodel.Category][]*runmodel.RemediationSession)
	var order []runmodel.Category
	for _, w := range run.Waves {
		for _, s := range w.Sessions {
			cat := s.Finding.Category
			if _, seen := byCategory[cat]; !seen {
				order = append(order, cat)
			}
			byCategory[cat] = append(byCategory[cat], s)
		}
	}

	results := make([]CategoryMetrics, 0, len(order))
	for _, cat := range order {
		sessions := byCategory[cat]
		results = append(results, evalCategory(cat, sessions))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return healthRank[results[i].Health] < healthRank[results[j].Health]
	})
	return results
}

func evalCategory(cat runmodel.Category, sessions []*runmodel.RemediationSession) CategoryMetrics {
	m := CategoryMetrics{Category: cat, Total: len(sessions)}

	var durations []float64
	var confidenceSum float64
	var confidenceCount int

	for _, s := range sessions {
		switch {
		case s.Status == runmodel.StatusSuccess:
			m.Succeeded++
		case isFailedOutcome(s.Status):
			m.Failed++
		}
		if s.Attempt > 1 {
			m.RetryCount++
		}
		if s.CompletedAt != nil {
			durations = append(durations, s.CompletedAt.Sub(s.CreatedAt).Minutes())
		}
		if s.Structured != nil {
			if score, ok := confidenceScore[s.Structured.Confidence]; ok {
				confidenceSum += score
				confidenceCount++
			}
		}
	}

	if m.Total > 0 {
		rate := float64(m.Succeeded) / float64(m.Total)
		m.PassRate = &rate
	}
	if len(durations) > 0 {
		avg := mean(durations)
		m.AvgDurationMins = &avg
	}
	if confidenceCount > 0 {
		avg := confidenceSum / float64(confidenceCount)
		m.AvgConfidence = &avg
	}

	m.Health = healthFor(m.Total, m.PassRate)
	return m
}

func healthFor(total int, passRate *float64) HealthLabel {
	if total < minSessionsForHealth || passRate == nil {
		return HealthInsufficientData
	}
	switch {
	case *passRate >= 0.8:
		return HealthHealthy
	case *passRate >= 0.5:
		return HealthDegraded
	default:
		return HealthCritical
	}
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// percentile computes the nearest-rank percentile (p in [0,100]) over a
// sorted ascending slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := p / 100 * float64(len(sorted))
	rank := int(pos)
	if float64(rank) < pos {
		rank++
	}
	rank--
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
