package memory

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

const (
	categoryMatchScore = 10.0
	serviceMatchScore  = 5.0
	severityMatchScore = 2.0
	liveSourceBonus    = 2.0
	successBonus       = 3.0
	freshnessDecayDays = 30.0
)

var confidenceScores = map[runmodel.Confidence]float64{
	runmodel.ConfidenceHigh:   3.0,
	runmodel.ConfidenceMedium: 1.5,
	runmodel.ConfidenceLow:    0.5,
}

// Retriever ranks memory items by relevance to a finding and renders the
// top matches into a prompt-ready context block.
type Retriever struct {
	Store      *Store
	PreferLive bool
}

// NewRetriever returns a retriever over store with PreferLive set: every
// live-sourced memory gets liveSourceBonus added to its score, and
// mock-sourced ones carry a simulated-session note.
func NewRetriever(store *Store) *Retriever {
	return &Retriever{Store: store, PreferLive: true}
}

// Retrieve returns up to maxResults memory items relevant to finding,
// ranked highest score first. An entry scores zero relevance — and is
// excluded — unless it matches the finding's category or service.
func (r *Retriever) Retrieve(finding runmodel.Finding, maxResults int) []runmodel.RankedMemoryItem {
	graph := r.Store.LoadGraph()
	if len(graph.Entries) == 0 {
		return nil
	}

	now := time.Now().UTC()
	type scored struct {
		entry runmodel.MemoryGraphEntry
		score float64
	}
	var candidates []scored
	for _, entry := range graph.Entries {
		score := r.scoreEntry(entry, finding, now)
		if score > 0 {
			candidates = append(candidates, scored{entry, score})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}

	results := make([]runmodel.RankedMemoryItem, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := r.Store.LoadItem(c.entry.ItemID); !ok {
			continue
		}
		note := sourceNote(c.entry, r.PreferLive)
		item := runmodel.MemoryItem{
			ItemID:      c.entry.ItemID,
			Category:    c.entry.Category,
			ServiceName: c.entry.ServiceName,
			Severity:    c.entry.Severity,
			Outcome:     c.entry.Outcome,
			Confidence:  c.entry.Confidence,
			DataSource:  c.entry.DataSource,
			CreatedAt:   c.entry.CreatedAt,
		}
		results = append(results, runmodel.RankedMemoryItem{Item: item, Score: c.score, SourceNote: note})
	}
	return results
}

// BuildContext renders the top maxResults memories for finding into a
// citation-annotated markdown block suitable for direct prompt injection,
// or "" if nothing relevant was found.
func (r *Retriever) BuildContext(finding runmodel.Finding, maxResults int) string {
	graph := r.Store.LoadGraph()
	if len(graph.Entries) == 0 {
		return ""
	}

	now := time.Now().UTC()
	type scored struct {
		entry runmodel.MemoryGraphEntry
		score float64
	}
	var candidates []scored
	for _, entry := range graph.Entries {
		score := r.scoreEntry(entry, finding, now)
		if score > 0 {
			candidates = append(candidates, scored{entry, score})
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}

	var parts []string
	for _, c := range candidates {
		content, ok := r.Store.LoadItem(c.entry.ItemID)
		if !ok {
			continue
		}
		note := sourceNote(c.entry, r.PreferLive)
		parts = append(parts, "### "+note+"\n\n"+content)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n---\n\n")
}

func sourceNote(entry runmodel.MemoryGraphEntry, preferLive bool) string {
	note := "[Memory from run " + entry.ItemID + ", source: " + string(entry.DataSource) + "]"
	if entry.DataSource == runmodel.DataSourceMock && preferLive {
		note += " (Note: this memory is from a simulated session — actual behavior may differ)"
	}
	return note
}

// scoreEntry scores entry's relevance to finding. Category or service match
// is the relevance gate: an entry matching neither scores zero and is
// dropped regardless of any other signal. Freshness uses an exponential
// half-life decay: a memory's score halves every freshnessDecayDays days.
func (r *Retriever) scoreEntry(entry runmodel.MemoryGraphEntry, finding runmodel.Finding, now time.Time) float64 {
	score := 0.0
	if entry.Category == finding.Category {
		score += categoryMatchScore
	}
	if entry.ServiceName == finding.ServiceName {
		score += serviceMatchScore
	}
	if score == 0 {
		return 0
	}

	if entry.Severity == finding.Severity {
		score += severityMatchScore
	}
	if bonus, ok := confidenceScores[entry.Confidence]; ok {
		score += bonus
	}
	if r.PreferLive && entry.DataSource == runmodel.DataSourceLive {
		score += liveSourceBonus
	}
	if entry.Outcome == "success" {
		score += successBonus
	}

	ageDays := now.Sub(entry.CreatedAt).Hours() / 24
	if ageDays > 0 {
		decay := math.Pow(0.5, ageDays/freshnessDecayDays)
		score *= decay
	}

	return score
}
