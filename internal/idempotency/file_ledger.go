package idempotency

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/pitabwire/util"

	"github.com/antinvestor/remediation-run-engine/internal/statestore"
)

// FileLedger persists the ledger as a single JSON object at path, guarded
// by a cross-process file lock on every mutation. A corrupt or missing file
// is treated as an empty ledger rather than a fatal error, since the ledger
// is a dispatch-dedup optimization, not the system of record for session
// state.
type FileLedger struct {
	path string
	mu   sync.Mutex
}

// NewFileLedger returns a ledger backed by the JSON file at path.
func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

type fileLedgerDoc struct {
	Entries map[string]string `json:"entries"`
}

func (l *FileLedger) Lookup(ctx context.Context, key string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.readLocked()
	if err != nil {
		return "", false, err
	}
	sessionID, ok := doc.Entries[key]
	return sessionID, ok, nil
}

func (l *FileLedger) Record(ctx context.Context, key, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock := statestore.NewFileLock(l.path)
	if err := lock.Acquire(ctx); err != nil {
		return fmt.Errorf("idempotency: acquire ledger lock: %w", err)
	}
	defer lock.Release()

	doc, err := l.readLocked()
	if err != nil {
		return err
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]string)
	}
	doc.Entries[key] = sessionID

	return statestore.WriteJSONAtomic(l.path, doc)
}

func (l *FileLedger) readLocked() (fileLedgerDoc, error) {
	var doc fileLedgerDoc
	err := statestore.ReadJSON(l.path, &doc)
	if err == nil {
		if doc.Entries == nil {
			doc.Entries = make(map[string]string)
		}
		return doc, nil
	}
	if os.IsNotExist(err) {
		return fileLedgerDoc{Entries: make(map[string]string)}, nil
	}
	util.Log(context.Background()).WithField("ledger_path", l.path).WithError(err).
		Warn("idempotency: ledger file unreadable, treating as empty")
	return fileLedgerDoc{Entries: make(map[string]string)}, nil
}
