package store

import (
	"context"
	"sort"
	"sync"

	"github.com/obsidianstack/sortline/pkg/types"
)

// Memory is an in-process Backend. Events are lost on restart.
type Memory struct {
	mu     sync.RWMutex
	events []types.SortEvent // timestamp descending
}

// NewMemory returns an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Insert(_ context.Context, ev types.SortEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	sort.SliceStable(m.events, func(i, j int) bool {
		return newerFirst(m.events[i], m.events[j])
	})
	return nil
}

// List returns a copy; callers may keep it.
func (m *Memory) List(_ context.Context) ([]types.SortEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.SortEvent, len(m.events))
	copy(out, m.events)
	return out, nil
}

func (m *Memory) DeleteAll(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.events)
	m.events = nil
	return n, nil
}

func (m *Memory) Close() error { return nil }

// newerFirst orders unstamped events ahead of stamped ones, then by
// timestamp descending.
func newerFirst(a, b types.SortEvent) bool {
	switch {
	case !a.HasTimestamp() && b.HasTimestamp():
		return true
	case a.HasTimestamp() && !b.HasTimestamp():
		return false
	default:
		return a.Timestamp.After(b.Timestamp)
	}
}
