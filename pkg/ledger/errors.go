package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrLedgerCorrupt marks a ledger file that exists but cannot be trusted.
	ErrLedgerCorrupt = errors.New("ledger corrupt")
	// ErrVersionTagMissing marks module source without a version marker.
	ErrVersionTagMissing = errors.New("version tag missing")
	// ErrInvalidRecord marks a write the ledger refused.
	ErrInvalidRecord = errors.New("ledger: invalid record")
	// ErrNotFound is returned by reads of unknown modules.
	ErrNotFound = errors.New("ledger: not found")
)

// LedgerCorruptError names the offending file.
type LedgerCorruptError struct {
	Path string
	Err  error
}

func (e *LedgerCorruptError) Error() string {
	return fmt.Sprintf("ledger corrupt: %s: %v", e.Path, e.Err)
}

func (e *LedgerCorruptError) Unwrap() []error { return []error{ErrLedgerCorrupt, e.Err} }

func corrupt(path string, err error) error {
	return &LedgerCorruptError{Path: path, Err: err}
}
