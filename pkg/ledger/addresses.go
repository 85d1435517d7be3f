package ledger

import (
	"errors"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/martin-labs/diamondctl/pkg/diamond"
)

// Strictness decides what happens when the address map cannot be read.
type Strictness int

const (
	// Lenient treats a corrupt address map as empty and logs a warning. The
	// next write replaces it.
	Lenient Strictness = iota
	// Strict fails with ErrLedgerCorrupt.
	Strict
)

// ParseStrictness accepts "lenient" and "strict".
func ParseStrictness(s string) (Strictness, error) {
	switch s {
	case "", "lenient":
		return Lenient, nil
	case "strict":
		return Strict, nil
	default:
		return Lenient, errors.New("ledger: strictness must be lenient or strict")
	}
}

func (s Strictness) String() string {
	if s == Strict {
		return "strict"
	}
	return "lenient"
}

// AddressBook is the latest address per module name.
type AddressBook struct {
	mu         sync.Mutex
	dir        string
	strictness Strictness
	logger     *slog.Logger
}

func newAddressBook(dir string, s Strictness, logger *slog.Logger) *AddressBook {
	return &AddressBook{dir: dir, strictness: s, logger: logger}
}

// Path returns the address map file of lctx.
func (b *AddressBook) Path(lctx Context) string {
	return filepath.Join(b.dir, lctx.AddressFile())
}

func (b *AddressBook) load(lctx Context) (map[string]diamond.Address, error) {
	m := make(map[string]diamond.Address)
	path := b.Path(lctx)
	if _, err := readJSON(path, "addresses", &m); err != nil {
		if b.strictness == Strict || !errors.Is(err, ErrLedgerCorrupt) {
			return nil, err
		}
		b.logger.Warn("address map unreadable, starting empty", "path", path, "error", err)
		return make(map[string]diamond.Address), nil
	}
	return m, nil
}

// Set records addr as the current address of name.
func (b *AddressBook) Set(lctx Context, name string, addr diamond.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := b.load(lctx)
	if err != nil {
		return err
	}
	m[name] = addr
	return writeJSON(b.Path(lctx), "addresses", m, "   ")
}

// Get returns the current address of name.
func (b *AddressBook) Get(lctx Context, name string) (diamond.Address, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := b.load(lctx)
	if err != nil {
		return "", err
	}
	addr, ok := m[name]
	if !ok {
		return "", ErrNotFound
	}
	return addr, nil
}

// All returns a copy of the address map.
func (b *AddressBook) All(lctx Context) (map[string]diamond.Address, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load(lctx)
}
