package ledgerstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteSnapshot atomically writes v as JSON to path: it marshals to a
// temporary file in the same directory, then renames over the
// destination, so a crash mid-write never leaves a truncated snapshot
// behind. Used for the statistical models' snapshot types
// (bocpd.Snapshot, kelly.Snapshot, throughput.Snapshot,
// survival.Snapshot).
func WriteSnapshot(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("ledgerstore: marshal snapshot: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ledgerstore: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("ledgerstore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ledgerstore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ledgerstore: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ledgerstore: rename temp file: %w", err)
	}
	return nil
}

// ReadSnapshot loads a JSON snapshot previously written by WriteSnapshot
// into v. Returns os.ErrNotExist (wrapped) if no snapshot has been
// written yet — callers should treat that as "start from zero state",
// not a fatal error.
func ReadSnapshot(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ledgerstore: read snapshot %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("ledgerstore: unmarshal snapshot %s: %w", path, err)
	}
	return nil
}
