package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/sortline/pkg/types"
)

// listTimeout bounds one subscriber re-read of the backend.
const listTimeout = 10 * time.Second

// ErrClosed is returned by operations on a closed Log.
var ErrClosed = errors.New("store: log closed")

// Backend persists events. List must return events ordered by timestamp
// descending, unstamped events first.
type Backend interface {
	Insert(ctx context.Context, ev types.SortEvent) error
	List(ctx context.Context) ([]types.SortEvent, error)
	DeleteAll(ctx context.Context) (int, error)
	Close() error
}

// Log is the single source of truth for the event log. It is safe for
// concurrent use; in practice the conveyor is its only writer.
type Log struct {
	backend Backend
	now     func() time.Time // injectable for deterministic tests
	newID   func() string

	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
}

// New creates a Log over backend.
func New(backend Backend) *Log {
	return &Log{
		backend: backend,
		now:     time.Now,
		newID:   uuid.NewString,
		subs:    make(map[uint64]*subscription),
	}
}

// Append stamps ev with a fresh id and the store time (unless already set),
// persists it, and notifies subscribers. It returns the stored event.
func (l *Log) Append(ctx context.Context, ev types.SortEvent) (types.SortEvent, error) {
	if l.isClosed() {
		return types.SortEvent{}, ErrClosed
	}
	if ev.ID == "" {
		ev.ID = l.newID()
	}
	if !ev.HasTimestamp() {
		ev.Timestamp = l.now().UTC()
	}
	if err := l.backend.Insert(ctx, ev); err != nil {
		return types.SortEvent{}, fmt.Errorf("store: append %s: %w", ev.ID, err)
	}
	l.notify()
	return ev, nil
}

// Events returns the current log, timestamp descending.
func (l *Log) Events(ctx context.Context) ([]types.SortEvent, error) {
	if l.isClosed() {
		return nil, ErrClosed
	}
	evs, err := l.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return evs, nil
}

// Clear removes every event and returns how many were removed.
func (l *Log) Clear(ctx context.Context) (int, error) {
	if l.isClosed() {
		return 0, ErrClosed
	}
	n, err := l.backend.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: clear: %w", err)
	}
	slog.Info("store: log cleared", "removed", n)
	l.notify()
	return n, nil
}

// Subscribe registers fn to receive the full log now and after every change.
// Bursts of changes are coalesced into one delivery. Read failures go to
// onErr (which may be nil); the subscription stays registered. The returned
// func unsubscribes and is safe to call more than once.
func (l *Log) Subscribe(fn func([]types.SortEvent), onErr func(error)) (unsubscribe func()) {
	sub := &subscription{
		fn:    fn,
		onErr: onErr,
		dirty: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return func() {}
	}
	id := l.nextID
	l.nextID++
	l.subs[id] = sub
	l.mu.Unlock()

	sub.mark()
	go sub.loop(l.backend)

	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
		sub.stop()
	}
}

// Close drops every subscription and closes the backend.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	subs := l.subs
	l.subs = make(map[uint64]*subscription)
	l.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	return l.backend.Close()
}

func (l *Log) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Log) notify() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.subs {
		s.mark()
	}
}

// subscription delivers coalesced snapshots of the log to one callback.
type subscription struct {
	fn    func([]types.SortEvent)
	onErr func(error)
	dirty chan struct{} // capacity 1: a pending re-read
	done  chan struct{}
	once  sync.Once
}

func (s *subscription) mark() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) loop(b Backend) {
	for {
		select {
		case <-s.done:
			return
		case <-s.dirty:
		}

		ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
		evs, err := b.List(ctx)
		cancel()

		select {
		case <-s.done:
			return
		default:
		}

		if err != nil {
			slog.Error("store: subscription read failed", "err", err)
			if s.onErr != nil {
				s.onErr(err)
			}
			continue
		}
		s.fn(evs)
	}
}
