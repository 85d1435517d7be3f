// Package ledger is the durable record of deployments: the latest address of
// every module, the append-only history of each module version, and the
// facets and funds of the diamond. It is an audit trail and never feeds the
// planner.
//
// Every call takes a Context naming the network and environment. Production
// and staging never share an address map or a diamond file.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/martin-labs/diamondctl/pkg/diamond"
)

// Ledger combines the three stores under one directory.
type Ledger struct {
	dir       string
	history   HistoryStore
	addresses *AddressBook
	diamonds  *DiamondStore
	logger    *slog.Logger
}

// Option configures a Ledger.
type Option func(*options)

type options struct {
	history    HistoryStore
	strictness Strictness
	logger     *slog.Logger
}

// WithHistoryStore replaces the file history, e.g. with a SQL store.
func WithHistoryStore(h HistoryStore) Option {
	return func(o *options) { o.history = h }
}

// WithStrictness sets the address map read policy.
func WithStrictness(s Strictness) Option {
	return func(o *options) { o.strictness = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New opens the ledger rooted at dir. Files are created on first write.
func New(dir string, opts ...Option) *Ledger {
	o := options{
		strictness: Lenient,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.history == nil {
		o.history = NewFileHistory(dir)
	}
	logger := o.logger.With("component", "ledger")
	return &Ledger{
		dir:       dir,
		history:   o.history,
		addresses: newAddressBook(dir, o.strictness, logger),
		diamonds:  &DiamondStore{dir: dir},
		logger:    logger,
	}
}

// Dir returns the ledger directory.
func (l *Ledger) Dir() string { return l.dir }

// Files lists the files holding lctx's records.
func (l *Ledger) Files(lctx Context) []string {
	files := []string{l.addresses.Path(lctx), l.diamonds.Path(lctx)}
	if fh, ok := l.history.(*FileHistory); ok {
		files = append(files, fh.Path())
	}
	return files
}

// Export returns the content of every existing ledger file of lctx keyed by
// file name. A file that fails its schema is reported as corrupt.
func (l *Ledger) Export(lctx Context) (map[string][]byte, error) {
	if err := lctx.Validate(); err != nil {
		return nil, err
	}
	out := make(map[string][]byte)
	add := func(path, schema string, mu *sync.Mutex) error {
		mu.Lock()
		defer mu.Unlock()
		raw, found, err := readRaw(path, schema)
		if err != nil || !found {
			return err
		}
		out[filepath.Base(path)] = raw
		return nil
	}
	if err := add(l.addresses.Path(lctx), "addresses", &l.addresses.mu); err != nil {
		if l.addresses.strictness == Strict || !errors.Is(err, ErrLedgerCorrupt) {
			return nil, err
		}
		l.logger.Warn("address map unreadable, not exported", "error", err)
	}
	if err := add(l.diamonds.Path(lctx), "diamond", &l.diamonds.mu); err != nil {
		return nil, err
	}
	if fh, ok := l.history.(*FileHistory); ok {
		if err := add(fh.Path(), "details", &fh.mu); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RecordDeployment appends rec to the history of name at version and makes
// rec.Address the current address of name. The history is written first, so
// a corrupt history leaves the address map untouched.
func (l *Ledger) RecordDeployment(ctx context.Context, lctx Context, name, version string, rec DeploymentRecord) error {
	if err := lctx.Validate(); err != nil {
		return err
	}
	if version == "" {
		return fmt.Errorf("record %s: %w", name, ErrVersionTagMissing)
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := l.history.Append(ctx, lctx, name, version, rec); err != nil {
		return fmt.Errorf("record %s@%s: %w", name, version, err)
	}
	if err := l.addresses.Set(lctx, name, rec.Address); err != nil {
		return fmt.Errorf("record %s address: %w", name, err)
	}
	l.logger.InfoContext(ctx, "deployment recorded",
		"ledger", lctx.String(),
		"module", name,
		"version", version,
		"address", rec.Address,
		"verified", bool(rec.Verified),
	)
	return nil
}

// RecordFacets stores the address and version of facets cut into the
// diamond, replacing earlier entries of the same names.
func (l *Ledger) RecordFacets(ctx context.Context, lctx Context, facets []diamond.Facet) error {
	if err := lctx.Validate(); err != nil {
		return err
	}
	for _, f := range facets {
		e := FacetEntry{Address: f.Address, Version: f.SourceVersion}
		if err := e.Validate(); err != nil {
			return fmt.Errorf("record facet %s: %w", f.Name, err)
		}
	}
	if len(facets) == 0 {
		return nil
	}
	err := l.diamonds.update(lctx, func(s *DiamondState) {
		for _, f := range facets {
			s.Facets[f.Name] = FacetEntry{Address: f.Address, Version: f.SourceVersion}
		}
	})
	if err != nil {
		return fmt.Errorf("record facets: %w", err)
	}
	l.logger.InfoContext(ctx, "facets recorded", "ledger", lctx.String(), "count", len(facets))
	return nil
}

// RecordFund stores the latest transfer of name to the diamond.
func (l *Ledger) RecordFund(ctx context.Context, lctx Context, name string, rec FundRecord) error {
	if err := lctx.Validate(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("record fund %s: %w", name, err)
	}
	err := l.diamonds.update(lctx, func(s *DiamondState) {
		s.InitialFund[name] = rec
	})
	if err != nil {
		return fmt.Errorf("record fund %s: %w", name, err)
	}
	l.logger.InfoContext(ctx, "fund recorded",
		"ledger", lctx.String(),
		"token", name,
		"sent", rec.SentAmount,
		"tx", rec.TxHash,
	)
	return nil
}

// History returns every record of name in lctx keyed by version.
func (l *Ledger) History(ctx context.Context, lctx Context, name string) (map[string][]DeploymentRecord, error) {
	if err := lctx.Validate(); err != nil {
		return nil, err
	}
	h, err := l.history.History(ctx, lctx, name)
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, fmt.Errorf("%s in %s: %w", name, lctx, ErrNotFound)
	}
	return h, nil
}

// Versions returns the recorded versions of name, oldest first.
func (l *Ledger) Versions(ctx context.Context, lctx Context, name string) ([]string, error) {
	h, err := l.History(ctx, lctx, name)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(h))
	for v := range h {
		out = append(out, v)
	}
	SortVersions(out)
	return out, nil
}

// Address returns the current address of name.
func (l *Ledger) Address(lctx Context, name string) (diamond.Address, error) {
	if err := lctx.Validate(); err != nil {
		return "", err
	}
	return l.addresses.Get(lctx, name)
}

// Addresses returns the whole address map of lctx.
func (l *Ledger) Addresses(lctx Context) (map[string]diamond.Address, error) {
	if err := lctx.Validate(); err != nil {
		return nil, err
	}
	return l.addresses.All(lctx)
}

// Diamond returns the diamond file of lctx.
func (l *Ledger) Diamond(lctx Context) (DiamondState, error) {
	if err := lctx.Validate(); err != nil {
		return DiamondState{}, err
	}
	return l.diamonds.Load(lctx)
}
