// Package history turns finished scans into compact digests and keeps the most
// recent ones, newest first.
package history

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/severity"
	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

// DefaultCapacity is how many digests are retained. Older ones are discarded.
const DefaultCapacity = 10

var ErrUnknownBackend = errors.New("unknown history backend")

// Store persists digests with the same cap and ordering as List.
type Store interface {
	Add(ctx context.Context, entry types.HistoryEntry) error
	// List returns at most the store's capacity of entries, newest first.
	List(ctx context.Context) ([]types.HistoryEntry, error)
	Close() error
}

// ToHistoryEntry derives a digest from result. INFO and GOOD findings are not
// part of TotalFindings.
func ToHistoryEntry(result *types.ScanResult, id string) types.HistoryEntry {
	counts := severity.CountBySeverity(result.Categories)
	return types.HistoryEntry{
		ID:            id,
		URL:           result.Target,
		ScanMode:      result.ScanMode,
		Timestamp:     result.Timestamp,
		TotalFindings: counts.Vulnerabilities(),
		Critical:      counts[types.SeverityCritical],
		High:          counts[types.SeverityHigh],
		Medium:        counts[types.SeverityMedium],
		Low:           counts[types.SeverityLow],
	}
}

func NewID() string {
	return uuid.New().String()
}

// List is a bounded, newest-first, in-memory digest list safe for concurrent use.
type List struct {
	mu       sync.RWMutex
	capacity int
	entries  []types.HistoryEntry
}

func NewList(capacity int) *List {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &List{capacity: capacity, entries: make([]types.HistoryEntry, 0, capacity)}
}

// Add prepends entry, dropping the oldest entry once the list is full.
func (l *List) Add(entry types.HistoryEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make([]types.HistoryEntry, 0, l.capacity)
	next = append(next, entry)
	for _, e := range l.entries {
		if len(next) == l.capacity {
			break
		}
		next = append(next, e)
	}
	l.entries = next
}

// Entries returns a copy of the list, newest first.
func (l *List) Entries() []types.HistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.HistoryEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *List) Capacity() int {
	return l.capacity
}

type memoryStore struct {
	list *List
}

// NewMemoryStore returns a Store that lives only as long as the process.
func NewMemoryStore(capacity int) Store {
	return &memoryStore{list: NewList(capacity)}
}

func (m *memoryStore) Add(_ context.Context, entry types.HistoryEntry) error {
	m.list.Add(entry)
	return nil
}

func (m *memoryStore) List(_ context.Context) ([]types.HistoryEntry, error) {
	return m.list.Entries(), nil
}

func (m *memoryStore) Close() error {
	return nil
}
