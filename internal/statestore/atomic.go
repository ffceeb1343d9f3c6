package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteJSONAtomic serializes v and writes it to path via a temp file in the
// same directory followed by an atomic rename, so a reader never observes a
// partially written file. The temp file appends ".tmp" to the target name
// rather than replacing its extension.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("statestore: marshal %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("statestore: mkdir %s: %w", dir, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("statestore: write temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("statestore: rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}

// ReadJSON decodes path into v. Returns os.ErrNotExist verbatim so callers
// can distinguish "never written" from a decode failure.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("statestore: %s is empty", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("statestore: decode %s: %w", path, err)
	}
	return nil
}
