package ingest

import (
	"sort"

	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

var severityWeights = map[runmodel.Severity]float64{
	runmodel.SeverityCritical: 40.0,
	runmodel.SeverityHigh:     30.0,
	runmodel.SeverityMedium:   15.0,
	runmodel.SeverityLow:      5.0,
}

var categoryWeights = map[runmodel.Category]float64{
	runmodel.CategorySQLInjection:            25.0,
	runmodel.CategoryHardcodedSecret:         25.0,
	runmodel.CategoryDependencyVulnerability: 20.0,
	runmodel.CategoryXSS:                     20.0,
	runmodel.CategoryPathTraversal:           20.0,
	runmodel.CategoryPIILogging:              15.0,
	runmodel.CategoryMissingEncryption:       15.0,
	runmodel.CategoryAccessLogging:           10.0,
	runmodel.CategoryOther:                   10.0,
}

var serviceWeights = map[string]float64{
	"payment-service": 20.0,
	"user-service":    15.0,
	"auth-service":    20.0,
	"catalog-service": 10.0,
}

const defaultServiceWeight = 10.0

// Prioritize scores every finding's PriorityScore as the sum of its
// severity, category, and service weights, then returns a new slice
// sorted by that score, highest first. Findings are mutated in place so
// every other holder of the same pointer-free struct values must re-read
// the returned slice to see updated scores.
func Prioritize(findings []runmodel.Finding) []runmodel.Finding {
	for i := range findings {
		f := &findings[i]
		f.PriorityScore = severityWeights[f.Severity] + categoryWeights[f.Category] + serviceWeight(f.ServiceName)
	}

	sorted := make([]runmodel.Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].PriorityScore > sorted[j].PriorityScore })
	return sorted
}

func serviceWeight(serviceName string) float64 {
	if w, ok := serviceWeights[serviceName]; ok {
		return w
	}
	return defaultServiceWeight
}
