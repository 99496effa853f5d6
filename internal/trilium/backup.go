package trilium

import (
	"fmt"
	"path/filepath"

	"airwaves/internal/cache"
)

// BackupSink is the publish stage's fallback when the note store is
// unavailable or attribute-attach fails: it writes the full payload as
// JSON under backup_dir/{identifier}.json.
type BackupSink struct {
	Dir string
}

// NewBackupSink returns a BackupSink rooted at dir.
func NewBackupSink(dir string) *BackupSink {
	return &BackupSink{Dir: dir}
}

// BackupPayload is what gets persisted when a note cannot be published.
type BackupPayload struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Summary    string `json:"summary"`
	Reason     string `json:"reason"`
}

// WriteJSON persists payload atomically at Dir/{identifier}.json.
func (s *BackupSink) WriteJSON(identifier string, payload BackupPayload) error {
	path := filepath.Join(s.Dir, fmt.Sprintf("%s.json", identifier))
	return cache.WriteJSONAtomic(path, payload)
}
