// Package runlock serializes reconciliation passes against one diamond. Two
// concurrent passes would each plan against a table the other is changing.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned when another pass holds the key.
var ErrLocked = errors.New("runlock: held by another run")

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Token() string
	Release(ctx context.Context) error
}

// Locker hands out leases keyed by diamond.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Key is the lock key of a diamond on a network.
func Key(network, diamond string) string {
	return fmt.Sprintf("diamondctl:run:%s:%s", network, diamond)
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	clock func() time.Time
}

type memoryEntry struct {
	token   string
	expires time.Time
}

// NewMemoryLocker creates an empty locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryEntry), clock: time.Now}
}

// WithClock overrides the clock for testing.
func (m *MemoryLocker) WithClock(clock func() time.Time) *MemoryLocker {
	m.clock = clock
	return m
}

func (m *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if e, ok := m.held[key]; ok && now.Before(e.expires) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, key)
	}
	tok := uuid.NewString()
	m.held[key] = memoryEntry{token: tok, expires: now.Add(ttl)}
	return &memoryLease{locker: m, key: key, token: tok}, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  string
}

func (l *memoryLease) Token() string { return l.token }

func (l *memoryLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if e, ok := l.locker.held[l.key]; ok && e.token == l.token {
		delete(l.locker.held, l.key)
	}
	return nil
}
