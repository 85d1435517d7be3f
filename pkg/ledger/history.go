package ledger

import (
	"context"
	"path/filepath"
	"sync"
)

// HistoryStore persists the append-only deployment history.
type HistoryStore interface {
	// Append adds rec to the history of (name, lctx, version).
	Append(ctx context.Context, lctx Context, name, version string, rec DeploymentRecord) error
	// History returns every record of name in lctx, keyed by version.
	History(ctx context.Context, lctx Context, name string) (map[string][]DeploymentRecord, error)
}

// FileHistory keeps the history in deployment_details.json. The file is
// shared by every network and environment and partitioned inside.
type FileHistory struct {
	mu   sync.Mutex
	path string
}

// NewFileHistory stores the history under dir.
func NewFileHistory(dir string) *FileHistory {
	return &FileHistory{path: filepath.Join(dir, DetailsFile)}
}

// Path returns the backing file.
func (f *FileHistory) Path() string { return f.path }

// Append fails with ErrLedgerCorrupt rather than replacing an unreadable file.
func (f *FileHistory) Append(_ context.Context, lctx Context, name, version string, rec DeploymentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	d := details{}
	if _, err := readJSON(f.path, "details", &d); err != nil {
		return err
	}
	d.append(name, lctx, version, rec)
	return writeJSON(f.path, "details", d, "  ")
}

func (f *FileHistory) History(_ context.Context, lctx Context, name string) (map[string][]DeploymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d := details{}
	if _, err := readJSON(f.path, "details", &d); err != nil {
		return nil, err
	}
	return cloneHistory(d.partition(name, lctx)), nil
}
