package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/obsidianstack/sortline/pkg/types"
)

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func newLog() *Log {
	l := New(NewMemory())
	l.now = fixedClock(baseTime)
	return l
}

func event(material string) types.SortEvent {
	return types.SortEvent{Material: material, Category: types.CategoryRecycled, Confidence: 90}
}

// recorder collects subscription deliveries.
type recorder struct {
	mu   sync.Mutex
	got  [][]types.SortEvent
	errs []error
	ch   chan struct{}
}

func newRecorder() *recorder { return &recorder{ch: make(chan struct{}, 64)} }

func (r *recorder) deliver(evs []types.SortEvent) {
	r.mu.Lock()
	r.got = append(r.got, evs)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *recorder) fail(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription delivery")
	}
}

// waitFor blocks until the latest delivery satisfies ok.
func (r *recorder) waitFor(t *testing.T, ok func([]types.SortEvent) bool) []types.SortEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		var last []types.SortEvent
		have := len(r.got) > 0
		if have {
			last = r.got[len(r.got)-1]
		}
		r.mu.Unlock()
		if have && ok(last) {
			return last
		}
		select {
		case <-r.ch:
		case <-deadline:
			t.Fatal("timed out waiting for matching delivery")
			return nil
		}
	}
}

func TestAppend_StampsIDAndTimestamp(t *testing.T) {
	l := newLog()
	ev, err := l.Append(context.Background(), event("plastic"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ev.ID == "" {
		t.Error("ID: expected a generated id")
	}
	if !ev.Timestamp.Equal(baseTime) {
		t.Errorf("Timestamp: got %v, want %v", ev.Timestamp, baseTime)
	}
}

func TestAppend_KeepsProvidedTimestamp(t *testing.T) {
	l := newLog()
	in := event("glass")
	in.Timestamp = baseTime.Add(-time.Hour)
	ev, err := l.Append(context.Background(), in)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if !ev.Timestamp.Equal(in.Timestamp) {
		t.Errorf("Timestamp: got %v, want %v", ev.Timestamp, in.Timestamp)
	}
}

func TestEvents_OrderedNewestFirst(t *testing.T) {
	l := newLog()
	ctx := context.Background()
	for i, m := range []string{"paper", "metal", "glass"} {
		l.now = fixedClock(baseTime.Add(time.Duration(i) * time.Second))
		if _, err := l.Append(ctx, event(m)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	evs, err := l.Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	want := []string{"glass", "metal", "paper"}
	for i, w := range want {
		if evs[i].Material != w {
			t.Errorf("Events[%d]: got %q, want %q", i, evs[i].Material, w)
		}
	}
}

func TestMemory_UnstampedFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	stamped := event("paper")
	stamped.Timestamp = baseTime
	_ = m.Insert(ctx, stamped)
	_ = m.Insert(ctx, event("metal"))

	evs, _ := m.List(ctx)
	if evs[0].Material != "metal" {
		t.Errorf("List[0]: got %q, want the unstamped event first", evs[0].Material)
	}
}

func TestClear_RemovesEverything(t *testing.T) {
	l := newLog()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		l.Append(ctx, event("paper")) //nolint:errcheck
	}
	n, err := l.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 3 {
		t.Errorf("Clear: removed %d, want 3", n)
	}
	evs, _ := l.Events(ctx)
	if len(evs) != 0 {
		t.Errorf("Events after Clear: got %d, want 0", len(evs))
	}
}

func TestSubscribe_DeliversInitialSnapshot(t *testing.T) {
	l := newLog()
	l.Append(context.Background(), event("plastic")) //nolint:errcheck

	r := newRecorder()
	unsub := l.Subscribe(r.deliver, r.fail)
	defer unsub()

	got := r.waitFor(t, func(evs []types.SortEvent) bool { return len(evs) == 1 })
	if got[0].Material != "plastic" {
		t.Errorf("initial snapshot: got %q, want plastic", got[0].Material)
	}
}

func TestSubscribe_DeliversAfterAppend(t *testing.T) {
	l := newLog()
	r := newRecorder()
	unsub := l.Subscribe(r.deliver, r.fail)
	defer unsub()

	r.waitFor(t, func(evs []types.SortEvent) bool { return len(evs) == 0 })
	l.Append(context.Background(), event("metal")) //nolint:errcheck
	r.waitFor(t, func(evs []types.SortEvent) bool { return len(evs) == 1 })
}

func TestClearThenSubscribe_YieldsEmpty(t *testing.T) {
	l := newLog()
	ctx := context.Background()
	_, _ = l.Append(ctx, event("paper"))
	_, _ = l.Append(ctx, event("glass"))
	if _, err := l.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	r := newRecorder()
	unsub := l.Subscribe(r.deliver, r.fail)
	defer unsub()
	r.wait(t)

	r.mu.Lock()
	first := r.got[0]
	r.mu.Unlock()
	if len(first) != 0 {
		t.Errorf("first delivery after clear: got %d events, want 0", len(first))
	}
}

func TestUnsubscribe_StopsDeliveries(t *testing.T) {
	l := newLog()
	r := newRecorder()
	unsub := l.Subscribe(r.deliver, r.fail)
	r.wait(t)
	unsub()
	unsub() // idempotent

	l.Append(context.Background(), event("paper")) //nolint:errcheck
	time.Sleep(50 * time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.got) != 1 {
		t.Errorf("deliveries after unsubscribe: got %d, want 1", len(r.got))
	}
}

// failingBackend fails List after being armed.
type failingBackend struct {
	*Memory
	mu   sync.Mutex
	fail bool
}

func (f *failingBackend) List(ctx context.Context) ([]types.SortEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("stream broken")
	}
	return f.Memory.List(ctx)
}

func (f *failingBackend) Insert(ctx context.Context, ev types.SortEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("write refused")
	}
	return f.Memory.Insert(ctx, ev)
}

func TestSubscribe_ReadFailureGoesToOnErr(t *testing.T) {
	fb := &failingBackend{Memory: NewMemory(), fail: true}
	l := New(fb)
	r := newRecorder()
	unsub := l.Subscribe(r.deliver, r.fail)
	defer unsub()
	r.wait(t)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) != 1 || len(r.got) != 0 {
		t.Errorf("errs=%d got=%d, want 1 error and no delivery", len(r.errs), len(r.got))
	}
}

func TestAppend_BackendFailure(t *testing.T) {
	fb := &failingBackend{Memory: NewMemory(), fail: true}
	l := New(fb)
	if _, err := l.Append(context.Background(), event("paper")); err == nil {
		t.Fatal("Append: expected error from failing backend")
	}
}

func TestClose_RejectsFurtherWrites(t *testing.T) {
	l := newLog()
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := l.Append(context.Background(), event("paper")); !errors.Is(err, ErrClosed) {
		t.Errorf("Append after Close: got %v, want ErrClosed", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestConcurrentAppendsAndReads(t *testing.T) {
	l := New(NewMemory())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.Append(context.Background(), event("paper")) //nolint:errcheck
		}()
		go func() {
			defer wg.Done()
			l.Events(context.Background()) //nolint:errcheck
		}()
	}
	wg.Wait()

	evs, _ := l.Events(context.Background())
	if len(evs) != 50 {
		t.Errorf("Events: got %d, want 50", len(evs))
	}
}
