// Package lease provides keyed reader/writer leases for serializing restores against
// backups and other restores that touch the same tables.
//
// Keys are acquired in sorted order so two multi-key acquisitions can never deadlock.
// Acquisition is all-or-nothing: if the context ends while waiting, keys already taken
// are released before returning.
package lease

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Mode selects shared (reader) or exclusive (writer) access
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// capacity bounds concurrent shared holders of one key; an exclusive holder takes all of it
const capacity int64 = 1 << 30

func (m Mode) weight() int64 {
	if m == Exclusive {
		return capacity
	}
	return 1
}

// TableKey is the lease key of a table
func TableKey(name string) string { return "table:" + name }

// BackupKey is the lease key of a backup artifact
func BackupKey(id string) string { return "backup:" + id }

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Manager hands out leases. The zero value is not usable; use NewManager.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewManager creates an empty lease manager
func NewManager() *Manager {
	return &Manager{entries: make(map[string]*entry)}
}

// Lease is a set of held keys. Release is idempotent.
type Lease struct {
	Mode Mode
	Keys []string

	once    sync.Once
	release func()
}

// Release returns every key of the lease
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(l.release)
}

// Acquire blocks until every key is held in the given mode or ctx is done
func (m *Manager) Acquire(ctx context.Context, mode Mode, keys ...string) (*Lease, error) {
	keys = normalize(keys)
	weight := mode.weight()

	held := make([]*entry, 0, len(keys))
	for _, key := range keys {
		e := m.ref(key)
		if err := e.sem.Acquire(ctx, weight); err != nil {
			m.unref(key, e)
			m.releaseAll(keys[:len(held)], held, weight)
			return nil, fmt.Errorf("waiting for %s lease on %s: %w", mode, key, err)
		}
		held = append(held, e)
	}

	return &Lease{
		Mode:    mode,
		Keys:    keys,
		release: func() { m.releaseAll(keys, held, weight) },
	}, nil
}

// TryAcquire takes every key without waiting, or nothing
func (m *Manager) TryAcquire(mode Mode, keys ...string) (*Lease, bool) {
	keys = normalize(keys)
	weight := mode.weight()

	held := make([]*entry, 0, len(keys))
	for _, key := range keys {
		e := m.ref(key)
		if !e.sem.TryAcquire(weight) {
			m.unref(key, e)
			m.releaseAll(keys[:len(held)], held, weight)
			return nil, false
		}
		held = append(held, e)
	}

	return &Lease{
		Mode:    mode,
		Keys:    keys,
		release: func() { m.releaseAll(keys, held, weight) },
	}, true
}

// Active returns the number of keys currently referenced by holders or waiters
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) ref(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(capacity)}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *Manager) unref(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

func (m *Manager) releaseAll(keys []string, held []*entry, weight int64) {
	for i := len(held) - 1; i >= 0; i-- {
		held[i].sem.Release(weight)
		m.unref(keys[i], held[i])
	}
}

func normalize(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup || k == "" {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
