package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// StateFileName is the name of the JSON state file inside the data directory.
const StateFileName = "orchestrator_state.json"

// FileStore keeps the snapshot as a single indented JSON document.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore returns a FileStore writing to path. The parent directory is
// created on the first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, logger: slog.Default()}
}

// Path returns the file the store reads and writes.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the snapshot from disk. A missing file yields defaults silently;
// a malformed one yields defaults and a warning.
func (f *FileStore) Load() Snapshot {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.logger.Warn("could not read state file, using defaults", "path", f.path, "error", err)
		}
		return Snapshot{}
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		f.logger.Warn("could not parse state file, using defaults", "path", f.path, "error", err)
		return Snapshot{}
	}
	s.normalize()

	f.logger.Info("loaded state",
		"likes_since_last_retrain", s.LikesSinceLastRetrain,
		"total_batches", s.TotalBatches,
	)
	return s
}

// Save writes the snapshot to a temp file in the same directory and renames
// it over the previous file, so readers never observe a half-written record.
func (f *FileStore) Save(s Snapshot) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing state file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// Close is a no-op; FileStore holds no open handles between calls.
func (f *FileStore) Close() error {
	return nil
}
