package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Checkpoint is the small progress artifact rewritten after every item
// completion. It exists for external monitors; correctness never depends
// on it.
type Checkpoint struct {
	ItemsDone  int64  `json:"items_done"`
	ItemsTotal int64  `json:"items_total"`
	LastItem   string `json:"last_item"`
}

// CheckpointWriter rewrites the progress file atomically
type CheckpointWriter struct {
	path string
}

// NewCheckpointWriter creates a writer for the given progress file path
func NewCheckpointWriter(path string) *CheckpointWriter {
	return &CheckpointWriter{path: path}
}

// Write replaces the progress file with the current status. The write goes
// through a temp file and rename so readers never observe a partial file.
func (w *CheckpointWriter) Write(status Status) error {
	data, err := json.MarshalIndent(Checkpoint{
		ItemsDone:  status.DoneItems,
		ItemsTotal: status.TotalItems,
		LastItem:   status.LastItem,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("failed to create progress directory: %w", err)
	}

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}

	return nil
}
