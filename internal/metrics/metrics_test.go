package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

func session(category runmodel.Category, status runmodel.SessionStatus, attempt int, confidence runmodel.Confidence, durationMin float64) *runmodel.RemediationSession {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &runmodel.RemediationSession{
		Finding:   runmodel.Finding{Category: category},
		Status:    status,
		Attempt:   attempt,
		CreatedAt: created,
	}
	if status.Terminal() {
		completed := created.Add(time.Duration(durationMin * float64(time.Minute)))
		s.CompletedAt = &completed
	}
	if confidence != "" {
		s.Structured = &runmodel.StructuredOutput{Confidence: confidence}
	}
	return s
}

func TestEval_ComputesPassRateAndHealth(t *testing.T) {
	run := &runmodel.BatchRun{
		Waves: []*runmodel.Wave{{
			Sessions: []*runmodel.RemediationSession{
				session(runmodel.CategorySQLInjection, runmodel.StatusSuccess, 1, runmodel.ConfidenceHigh, 10),
				session(runmodel.CategorySQLInjection, runmodel.StatusSuccess, 1, runmodel.ConfidenceMedium, 20),
				session(runmodel.CategorySQLInjection, runmodel.StatusFailed, 2, "", 5),
			},
		}},
	}

	results := Eval(run)
	require.Len(t, results, 1)
	m := results[0]
	require.Equal(t, 3, m.Total)
	require.Equal(t, 2, m.Succeeded)
	require.Equal(t, 1, m.Failed)
	require.InDelta(t, 2.0/3.0, *m.PassRate, 0.001)
	require.Equal(t, 1, m.RetryCount)
	require.InDelta(t, 0.75, *m.AvgConfidence, 0.001)
	require.Equal(t, HealthDegraded, m.Health)
}

func TestEval_FewerThanThreeSessionsIsInsufficientData(t *testing.T) {
	run := &runmodel.BatchRun{
		Waves: []*runmodel.Wave{{
			Sessions: []*runmodel.RemediationSession{
				session(runmodel.CategoryXSS, runmodel.StatusSuccess, 1, "", 1),
			},
		}},
	}
	results := Eval(run)
	require.Equal(t, HealthInsufficientData, results[0].Health)
}

func TestEval_SortsCriticalFirst(t *testing.T) {
	run := &runmodel.BatchRun{
		Waves: []*runmodel.Wave{{
			Sessions: []*runmodel.RemediationSession{
				session(runmodel.CategoryXSS, runmodel.StatusSuccess, 1, "", 1),
				session(runmodel.CategoryXSS, runmodel.StatusSuccess, 1, "", 1),
				session(runmodel.CategoryXSS, runmodel.StatusSuccess, 1, "", 1),
				session(runmodel.CategorySQLInjection, runmodel.StatusFailed, 1, "", 1),
				session(runmodel.CategorySQLInjection, runmodel.StatusFailed, 1, "", 1),
				session(runmodel.CategorySQLInjection, runmodel.StatusFailed, 1, "", 1),
			},
		}},
	}
	results := Eval(run)
	require.Equal(t, runmodel.CategorySQLInjection, results[0].Category)
	require.Equal(t, HealthCritical, results[0].Health)
	require.Equal(t, HealthHealthy, results[1].Health)
}

func TestOps_ComputesDurationPercentilesAndBudget(t *testing.T) {
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	run := &runmodel.BatchRun{
		StartedAt:     started,
		TotalFindings: 10,
		Completed:     2,
		Waves: []*runmodel.Wave{{
			WaveNumber: 1,
			Sessions: []*runmodel.RemediationSession{
				session(runmodel.CategoryXSS, runmodel.StatusSuccess, 1, "", 10),
				session(runmodel.CategoryXSS, runmodel.StatusSuccess, 1, "", 20),
			},
		}},
	}

	now := started.Add(2 * time.Hour)
	ops := Ops(run, 5, now)

	require.NotNil(t, ops.P50DurationMins)
	require.InDelta(t, 10.0, *ops.P50DurationMins, 0.001)
	require.NotNil(t, ops.P95DurationMins)
	require.InDelta(t, 20.0, *ops.P95DurationMins, 0.001)
	require.NotNil(t, ops.AvgDurationMins)
	require.InDelta(t, 15.0, *ops.AvgDurationMins, 0.001)
	require.Equal(t, 50, ops.EstimatedBudget)
	require.NotNil(t, ops.SessionsPerHour)
	require.InDelta(t, 1.0, *ops.SessionsPerHour, 0.001)
	require.NotNil(t, ops.ProjectedRemaining)
}

func TestOps_NilRunReturnsZeroValue(t *testing.T) {
	ops := Ops(nil, 5, time.Now())
	require.Equal(t, OpsMetrics{}, ops)
}
