// Command reviewer is an operator CLI for the human-in-the-loop review
// mutation path: it applies an approve/reject decision to one session
// without going through the gateway's HTTP surface, calling the same
// internal/review.Apply function the gateway's handler calls.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/util"

	appconfig "github.com/antinvestor/remediation-run-engine/apps/reviewer/config"
	"github.com/antinvestor/remediation-run-engine/internal/review"
	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
	"github.com/antinvestor/remediation-run-engine/internal/statestore"
)

// runReview wires a review.Request from CLI-sourced values and applies it
// against store, isolated from flag parsing so it is unit-testable.
func runReview(ctx context.Context, store *statestore.Store, runID, sessionID, action, reason, reviewerID string) (*runmodel.RemediationSession, error) {
	return review.Apply(ctx, store, review.Request{
		RunID:      runID,
		SessionID:  sessionID,
		Action:     review.Action(action),
		Reason:     reason,
		ReviewerID: reviewerID,
	})
}

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[appconfig.ReviewerConfig](ctx)
	if err != nil {
		util.Log(ctx).WithError(err).Error("could not process configs")
		os.Exit(1)
	}

	runID := flag.String("run-id", "", "run id the session belongs to")
	sessionID := flag.String("session-id", "", "session id (or finding id) to decide on")
	action := flag.String("action", "", "approved|rejected")
	reason := flag.String("reason", "", "optional free-text reason for the decision")
	reviewerID := flag.String("reviewer-id", "", "identity of the human operator making this decision")
	flag.Parse()

	if *runID == "" || *sessionID == "" || *action == "" || *reviewerID == "" {
		fmt.Fprintln(os.Stderr, "reviewer: -run-id, -session-id, -action, and -reviewer-id are all required")
		os.Exit(2)
	}

	store := statestore.New(cfg.RunsDir, cfg.StateFilePath)

	sess, err := runReview(ctx, store, *runID, *sessionID, *action, *reason, *reviewerID)
	if err != nil {
		util.Log(ctx).WithError(err).Error("reviewer: review could not be applied")
		os.Exit(1)
	}

	out, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		util.Log(ctx).WithError(err).Error("reviewer: could not encode result")
		os.Exit(1)
	}
	fmt.Println(string(out))
}
