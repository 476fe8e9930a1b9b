// Package dashboard keeps the live dashboard snapshot in step with the event
// log. It recomputes on every log change, on every filter change, and on a
// refresh tick so windowed views age out without new events.
package dashboard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/obsidianstack/sortline/internal/compute"
	"github.com/obsidianstack/sortline/pkg/types"
)

// DefaultRefresh is the recompute interval when none is given.
const DefaultRefresh = 5 * time.Second

// Source streams the full event log, newest first.
type Source interface {
	Subscribe(fn func([]types.SortEvent), onErr func(error)) (unsubscribe func())
}

// Sink receives every published snapshot. Publish must not block.
type Sink interface {
	Publish(snap compute.Snapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(compute.Snapshot)

func (f SinkFunc) Publish(snap compute.Snapshot) { f(snap) }

// Controller is the dashboard's single owner of the latest log and filter.
// All exported methods are safe for concurrent use.
type Controller struct {
	src     Source
	sinks   []Sink
	refresh time.Duration
	now     func() time.Time // injectable for deterministic tests

	mu        sync.RWMutex
	events    []types.SortEvent
	filter    compute.Filter
	limit     int
	streamErr error

	// pub orders compute-and-publish so sinks never see an older snapshot
	// after a newer one.
	pub sync.Mutex
}

// New returns a Controller over src. limit caps the rendered log entries.
func New(src Source, f compute.Filter, limit int, refresh time.Duration, sinks ...Sink) *Controller {
	if limit <= 0 {
		limit = compute.DefaultLogLimit
	}
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return &Controller{
		src:     src,
		sinks:   sinks,
		refresh: refresh,
		now:     time.Now,
		filter:  f,
		limit:   limit,
	}
}

// Run subscribes to the log and republishes on every tick until ctx is
// cancelled.
func (c *Controller) Run(ctx context.Context) error {
	unsubscribe := c.src.Subscribe(c.onEvents, c.onStreamError)
	defer unsubscribe()

	ticker := time.NewTicker(c.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.publish()
		}
	}
}

// SetFilter changes the active window and republishes immediately.
func (c *Controller) SetFilter(f compute.Filter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
	slog.Info("dashboard: filter changed", "filter", f.String())
	c.publish()
}

// Filter returns the active window.
func (c *Controller) Filter() compute.Filter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter
}

// SetLogLimit changes how many log entries a snapshot renders.
func (c *Controller) SetLogLimit(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	changed := c.limit != n
	c.limit = n
	c.mu.Unlock()
	if changed {
		c.publish()
	}
}

// Snapshot computes the current snapshot without publishing it.
func (c *Controller) Snapshot() compute.Snapshot {
	c.mu.RLock()
	events, f, limit := c.events, c.filter, c.limit
	c.mu.RUnlock()
	return compute.AggregateLimit(events, f, c.now(), limit)
}

// Events returns the last delivered log.
func (c *Controller) Events() []types.SortEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.SortEvent, len(c.events))
	copy(out, c.events)
	return out
}

// StreamErr returns the last subscription failure, or nil once a later
// delivery succeeded.
func (c *Controller) StreamErr() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streamErr
}

func (c *Controller) onEvents(events []types.SortEvent) {
	c.mu.Lock()
	c.events = events
	c.streamErr = nil
	c.mu.Unlock()
	c.publish()
}

// onStreamError keeps the last snapshot; the next change re-reads the log.
func (c *Controller) onStreamError(err error) {
	c.mu.Lock()
	c.streamErr = err
	c.mu.Unlock()
	slog.Error("dashboard: log stream failed, keeping last snapshot", "err", err)
}

func (c *Controller) publish() {
	c.pub.Lock()
	defer c.pub.Unlock()
	snap := c.Snapshot()
	for _, s := range c.sinks {
		s.Publish(snap)
	}
}
