package agentbackend

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

// simStage is one step of the simulated session lifecycle, with progress
// boundaries and a wall-clock duration range in seconds.
type simStage struct {
	name            string
	minSec, maxSec  float64
	startPct, endPct int
}

var simStages = []simStage{
	{"analyzing", 5, 10, 0, 25},
	{"fixing", 10, 20, 25, 60},
	{"testing", 8, 15, 60, 85},
	{"creating_pr", 3, 8, 85, 95},
}

var fixApproaches = map[runmodel.Category]string{
	runmodel.CategorySQLInjection:            "Replace string concatenation in SQL query with a parameterized statement",
	runmodel.CategoryDependencyVulnerability: "Upgrade vulnerable dependency to the patched version from the advisory",
	runmodel.CategoryHardcodedSecret:         "Move hardcoded credential to an environment variable loaded via app config",
	runmodel.CategoryPIILogging:              "Redact PII fields (email, phone, SSN) from log output using a sanitization filter",
	runmodel.CategoryMissingEncryption:       "Add AES-256 encryption for sensitive data at rest using a managed key store",
	runmodel.CategoryAccessLogging:           "Add structured audit logging middleware to capture access events for compliance",
	runmodel.CategoryXSS:                     "Apply context-aware output encoding via the framework's HTML escaping utilities",
	runmodel.CategoryPathTraversal:           "Validate and canonicalize file paths against a whitelist of allowed directories",
}

var fileTemplates = map[runmodel.Category][]string{
	runmodel.CategorySQLInjection:            {"src/main/{service}/dao/{cls}.go", "src/main/{service}/dao/{cls}_test.go"},
	runmodel.CategoryDependencyVulnerability: {"go.mod", "package.json"},
	runmodel.CategoryHardcodedSecret:         {"internal/{service}/config/{cls}.go", "config.yaml"},
	runmodel.CategoryPIILogging:              {"internal/{service}/routes.go", "internal/middleware/logging.go"},
	runmodel.CategoryMissingEncryption:       {"internal/{service}/model/{cls}.go"},
	runmodel.CategoryAccessLogging:           {"internal/middleware/auth.go", "internal/{service}/controller/{cls}.go"},
	runmodel.CategoryXSS:                     {"internal/{service}/controller.go"},
	runmodel.CategoryPathTraversal:           {"internal/{service}/file_controller.go"},
}

var findingIDPattern = regexp.MustCompile(`FIND-\d+`)

type simSession struct {
	sessionID      string
	createdAt      time.Time
	willFail       bool
	stageDurations []time.Duration
	prompt         string
	playbookID     string
	tags           []string
	findingID      string
	category       runmodel.Category
	service        string
	terminated     bool
}

// SimulatedBackend stands in for a remote agent platform: sessions progress
// through analyzing -> fixing -> testing -> creating_pr purely as a function
// of elapsed wall-clock time, with a fixed 15% failure rate.
type SimulatedBackend struct {
	mu        sync.Mutex
	rng       *rand.Rand
	sessions  map[string]*simSession
	playbooks map[runmodel.Category]string
	failRate  float64
}

// NewSimulatedBackend returns a backend seeded for reproducibility; seed 0
// uses the current time.
func NewSimulatedBackend(seed int64) *SimulatedBackend {
	src := rand.NewSource(seed)
	if seed == 0 {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &SimulatedBackend{
		rng:       rand.New(src),
		sessions:  make(map[string]*simSession),
		playbooks: make(map[runmodel.Category]string),
		failRate:  0.15,
	}
}

func (b *SimulatedBackend) CreateSession(_ context.Context, req CreateSessionRequest) (CreateSessionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if req.Idempotent {
		for sid, s := range b.sessions {
			if s.prompt == req.Prompt {
				return CreateSessionResult{SessionID: sid, URL: sessionURL(sid), IsNewSession: false}, nil
			}
		}
	}

	sessionID := "sim-" + xid.New().String()
	durations := make([]time.Duration, len(simStages))
	for i, st := range simStages {
		secs := st.minSec + b.rng.Float64()*(st.maxSec-st.minSec)
		durations[i] = time.Duration(secs * float64(time.Second))
	}

	sess := &simSession{
		sessionID:      sessionID,
		createdAt:      time.Now(),
		willFail:       b.rng.Float64() < b.failRate,
		stageDurations: durations,
		prompt:         req.Prompt,
		playbookID:     req.PlaybookID,
		tags:           req.Tags,
		findingID:      extractFindingID(req.Prompt),
		category:       extractCategory(req.Prompt, req.Tags),
		service:        extractService(req.Prompt, req.Tags),
	}
	b.sessions[sessionID] = sess

	return CreateSessionResult{SessionID: sessionID, URL: sessionURL(sessionID), IsNewSession: true}, nil
}

func (b *SimulatedBackend) GetSession(_ context.Context, sessionID string) (SessionSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sess, ok := b.sessions[sessionID]
	if !ok {
		return SessionSnapshot{}, &BackendError{StatusCode: 404, Message: "unknown session " + sessionID}
	}

	if sess.terminated {
		return b.buildSnapshot(sess, "failed", 0, runmodel.BackendBlocked, "Session terminated by user"), nil
	}

	elapsed := time.Since(sess.createdAt)
	cumulative := time.Duration(0)
	for i, st := range simStages {
		dur := sess.stageDurations[i]
		if elapsed < cumulative+dur {
			frac := float64(elapsed-cumulative) / float64(dur)
			progress := int(float64(st.startPct) + frac*float64(st.endPct-st.startPct))
			if sess.willFail && st.name == "testing" {
				return b.buildSnapshot(sess, "failed", st.startPct, runmodel.BackendBlocked,
					"Tests failed: existing tests broke after applying fix"), nil
			}
			return b.buildSnapshot(sess, st.name, progress, runmodel.BackendWorking, ""), nil
		}
		cumulative += dur
	}

	if sess.willFail {
		return b.buildSnapshot(sess, "failed", 60, runmodel.BackendBlocked,
			"Tests failed: existing tests broke after applying fix"), nil
	}
	return b.buildSnapshot(sess, "completed", 100, runmodel.BackendFinished, ""), nil
}

func (b *SimulatedBackend) ListSessions(_ context.Context, limit int) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.sessions))
	for sid, sess := range b.sessions {
		if sess.terminated {
			continue
		}
		ids = append(ids, sid)
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

func (b *SimulatedBackend) TerminateSession(_ context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess, ok := b.sessions[sessionID]
	if !ok {
		return nil
	}
	sess.terminated = true
	return nil
}

// SendMessage is a no-op: the simulated backend's sessions are a pure
// function of elapsed wall-clock time, so a nudge message cannot change
// their outcome. It returns a 404 BackendError for an unknown session and
// otherwise records nothing.
func (b *SimulatedBackend) SendMessage(_ context.Context, sessionID, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[sessionID]; !ok {
		return &BackendError{StatusCode: 404, Message: "unknown session " + sessionID}
	}
	return nil
}

func (b *SimulatedBackend) CreatePlaybook(_ context.Context, category runmodel.Category, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := "pb-" + xid.New().String()
	b.playbooks[category] = id
	return id, nil
}

func (b *SimulatedBackend) ListPlaybooks(_ context.Context) (map[runmodel.Category]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[runmodel.Category]string, len(b.playbooks))
	for k, v := range b.playbooks {
		out[k] = v
	}
	return out, nil
}

var simStageOrder = map[string]int{
	"analyzing": 0, "fixing": 1, "testing": 2, "creating_pr": 3, "completed": 4, "failed": 5,
}

func (b *SimulatedBackend) buildSnapshot(sess *simSession, stage string, progress int, statusEnum runmodel.BackendStatusEnum, errMsg string) SessionSnapshot {
	idx := simStageOrder[stage]

	var fixApproach string
	var filesModified []string
	var testsPassed *bool
	testsAdded := 0
	var prURL string
	var confidence runmodel.Confidence

	if idx >= 1 || stage == "failed" {
		fixApproach = fixApproaches[sess.category]
		if fixApproach == "" {
			fixApproach = "Apply security best practices to remediate the identified vulnerability"
		}
		if sess.category != runmodel.CategoryOther {
			if b.rng.Float64() < 0.5 {
				confidence = runmodel.ConfidenceHigh
			} else {
				confidence = runmodel.ConfidenceMedium
			}
		} else {
			confidence = runmodel.ConfidenceLow
		}
	}

	if idx >= 2 || stage == "failed" {
		templates := fileTemplates[sess.category]
		if len(templates) == 0 {
			templates = []string{"internal/fix.go"}
		}
		cls := strings.ReplaceAll(sess.findingID, "-", "")
		svc := strings.TrimSuffix(sess.service, "-service")
		for i, t := range templates {
			if i >= 2 {
				break
			}
			f := strings.ReplaceAll(t, "{service}", svc)
			f = strings.ReplaceAll(f, "{cls}", cls)
			filesModified = append(filesModified, f)
		}
	}

	if idx >= 3 {
		passed := true
		testsPassed = &passed
		testsAdded = 1 + b.rng.Intn(5)
	}

	if stage == "failed" {
		failed := false
		testsPassed = &failed
		testsAdded = 0
	}

	if stage == "creating_pr" || stage == "completed" {
		prNum := 10 + b.rng.Intn(990)
		prURL = fmt.Sprintf("https://git.internal.example/%s/pull/%d", sess.service, prNum)
	}

	step := currentStepMessage(stage, sess.findingID, sess.category, fixApproach)

	structured := &runmodel.StructuredOutput{
		FindingID:     sess.findingID,
		Status:        runmodel.StructuredStatus(stage),
		ProgressPct:   progress,
		CurrentStep:   step,
		FixApproach:   fixApproach,
		FilesModified: filesModified,
		TestsPassed:   testsPassed,
		TestsAdded:    testsAdded,
		PRURL:         prURL,
		ErrorMessage:  errMsg,
		Confidence:    confidence,
	}

	return SessionSnapshot{
		SessionID:  sess.sessionID,
		StatusEnum: statusEnum,
		URL:        sessionURL(sess.sessionID),
		Title:      fmt.Sprintf("Remediate %s: %s", sess.findingID, categoryTitle(sess.category)),
		Structured: structured,
		PRUrl:      prURL,
	}
}

func currentStepMessage(stage, findingID string, category runmodel.Category, fixApproach string) string {
	switch stage {
	case "analyzing":
		return fmt.Sprintf("Analyzing finding %s: %s", findingID, categoryTitle(category))
	case "fixing":
		if fixApproach == "" {
			fixApproach = "patching vulnerability"
		}
		return fmt.Sprintf("Applying fix for %s — %s", findingID, fixApproach)
	case "testing":
		return fmt.Sprintf("Running test suite — validating fix for %s", findingID)
	case "creating_pr":
		return fmt.Sprintf("Creating pull request with fix for %s", findingID)
	case "completed":
		return "Pull request created successfully"
	case "failed":
		return "Tests failed after applying fix"
	default:
		return "Processing..."
	}
}

func categoryTitle(c runmodel.Category) string {
	return strings.Title(strings.ReplaceAll(string(c), "_", " ")) //nolint:staticcheck // simple display text, not Unicode-sensitive
}

func sessionURL(sessionID string) string {
	return "https://agent.simulated.internal/sessions/" + sessionID
}

func extractFindingID(prompt string) string {
	if m := findingIDPattern.FindString(prompt); m != "" {
		return m
	}
	return "FIND-UNKNOWN"
}

func extractCategory(prompt string, tags []string) runmodel.Category {
	for _, tag := range tags {
		if runmodel.ValidCategories[runmodel.Category(tag)] {
			return runmodel.Category(tag)
		}
	}
	lower := strings.ReplaceAll(strings.ToLower(prompt), " ", "_")
	for cat := range runmodel.ValidCategories {
		if cat == runmodel.CategoryOther {
			continue
		}
		if strings.Contains(lower, string(cat)) {
			return cat
		}
	}
	return runmodel.CategoryOther
}

var serviceNamePattern = regexp.MustCompile(`[\w-]+-service`)

func extractService(prompt string, tags []string) string {
	if m := serviceNamePattern.FindString(prompt); m != "" {
		return m
	}
	for _, tag := range tags {
		if strings.HasSuffix(tag, "-service") {
			return tag
		}
	}
	return "unknown-service"
}
