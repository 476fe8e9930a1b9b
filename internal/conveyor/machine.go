package conveyor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/obsidianstack/sortline/internal/material"
	"github.com/obsidianstack/sortline/internal/notify"
	"github.com/obsidianstack/sortline/internal/observability"
	"github.com/obsidianstack/sortline/pkg/types"
)

var (
	// ErrBusy is returned by Run when a run is already in flight.
	ErrBusy = errors.New("conveyor: run already in flight")

	// ErrCancelled is returned by Run when its context ends before Logging.
	ErrCancelled = errors.New("conveyor: run cancelled")
)

// Phase is the position of the current item on the line.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseSensorDetect Phase = "sensor_detect"
	PhaseMLClassify   Phase = "ml_classify"
	PhaseRouted       Phase = "routed"
	PhaseLogging      Phase = "logging"
)

// Indicator states.
const (
	IndicatorSuccess = "success"
	IndicatorActive  = "active"
)

// Indicator is the routing light lit for an item: a sorting stage by index,
// or the manual-inspection station.
type Indicator struct {
	Stage  int    `json:"stage"` // -1 for manual inspection
	Manual bool   `json:"manual"`
	State  string `json:"state"`
}

// IndicatorFor selects the routing light for k.
func IndicatorFor(k material.Kind) Indicator {
	if i := k.Index(); i >= 0 && i < material.SortingStages {
		return Indicator{Stage: i, State: IndicatorSuccess}
	}
	return Indicator{Stage: -1, Manual: true, State: IndicatorActive}
}

// Update describes the run in flight after a phase change. Fields fill in as
// the run progresses; an Idle update clears the display.
type Update struct {
	Phase      Phase      `json:"phase"`
	Material   string     `json:"material,omitempty"`
	Detector   string     `json:"detector,omitempty"`
	Confidence int        `json:"confidence,omitempty"`
	Indicator  *Indicator `json:"indicator,omitempty"`
}

// Appender persists one event and returns it as stored.
type Appender interface {
	Append(ctx context.Context, ev types.SortEvent) (types.SortEvent, error)
}

// Observer is the display boundary. Calls must not block.
type Observer interface {
	Stage(u Update)
	Status(s Status)
}

// Timings are the per-phase delays of one run.
type Timings struct {
	Detect   time.Duration
	Classify time.Duration
	Route    time.Duration
	Cooldown time.Duration
}

// DefaultTimings is the standard line pacing.
func DefaultTimings() Timings {
	return Timings{
		Detect:   1 * time.Second,
		Classify: 1500 * time.Millisecond,
		Route:    1500 * time.Millisecond,
		Cooldown: 500 * time.Millisecond,
	}
}

// Stats counts run outcomes since the machine was created.
type Stats struct {
	Completed uint64 `json:"completed"`
	Cancelled uint64 `json:"cancelled"`
	Failed    uint64 `json:"failed"`
}

// Machine runs one item at a time through the sorting phases.
// It is safe for concurrent use; concurrent Run calls get ErrBusy.
type Machine struct {
	classifier *material.Classifier
	log        Appender
	observer   Observer
	notifier   notify.Notifier
	timings    Timings

	busy atomic.Bool

	mu    sync.Mutex
	phase Phase

	completed atomic.Uint64
	cancelled atomic.Uint64
	failed    atomic.Uint64
}

// NewMachine returns an idle Machine. obs and n may be nil.
func NewMachine(c *material.Classifier, log Appender, obs Observer, n notify.Notifier, t Timings) *Machine {
	if obs == nil {
		obs = nopObserver{}
	}
	if n == nil {
		n = notify.Func(func(string, notify.Severity) {})
	}
	return &Machine{
		classifier: c,
		log:        log,
		observer:   obs,
		notifier:   n,
		timings:    t,
		phase:      PhaseIdle,
	}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Stats returns a copy of the outcome counters.
func (m *Machine) Stats() Stats {
	return Stats{
		Completed: m.completed.Load(),
		Cancelled: m.cancelled.Load(),
		Failed:    m.failed.Load(),
	}
}

// Run takes one simulated item through every phase and returns the appended
// event. Once Logging is reached the append completes even if ctx ends; the
// cool-down is cut short instead.
func (m *Machine) Run(ctx context.Context) (types.SortEvent, error) {
	if !m.busy.CompareAndSwap(false, true) {
		return types.SortEvent{}, ErrBusy
	}
	defer m.busy.Store(false)

	out := m.classifier.Simulate()
	name := material.DisplayName(string(out.Material))

	ctx, span := observability.StartSpan(ctx, "conveyor.run",
		attribute.String("material", string(out.Material)),
		attribute.Int("confidence", out.Confidence),
	)
	defer span.End()

	u := Update{}
	m.enter(span, PhaseSensorDetect, u)
	if err := sleep(ctx, m.timings.Detect); err != nil {
		return types.SortEvent{}, m.abort(span, err)
	}

	u.Material, u.Detector = name, out.DetectorResult
	m.enter(span, PhaseMLClassify, u)
	if err := sleep(ctx, m.timings.Classify); err != nil {
		return types.SortEvent{}, m.abort(span, err)
	}

	u.Confidence = out.Confidence
	m.enter(span, PhaseRouted, u)
	if err := sleep(ctx, m.timings.Route); err != nil {
		return types.SortEvent{}, m.abort(span, err)
	}
	// The timer can win the select against a cancel that already landed.
	if err := ctx.Err(); err != nil {
		return types.SortEvent{}, m.abort(span, err)
	}

	ind := IndicatorFor(out.Material)
	u.Indicator = &ind
	m.enter(span, PhaseLogging, u)

	prof := out.Material.Profile()
	ev, err := m.log.Append(context.WithoutCancel(ctx), types.SortEvent{
		Material:       string(out.Material),
		Category:       prof.Category,
		Destination:    prof.Destination,
		Confidence:     out.Confidence,
		DetectorResult: out.DetectorResult,
	})
	if err != nil {
		m.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		slog.Error("conveyor: failed to log event", "material", out.Material, "err", err)
		m.notifier.Notify("Failed to log data.", notify.SeverityError)
		err = fmt.Errorf("conveyor: log event: %w", err)
	} else {
		m.completed.Add(1)
		slog.Debug("conveyor: item sorted", "id", ev.ID, "material", ev.Material, "confidence", ev.Confidence)
		m.notifier.Notify(name+" sorted.", notify.SeveritySuccess)
	}

	_ = sleep(ctx, m.timings.Cooldown)
	m.enter(span, PhaseIdle, Update{})
	return ev, err
}

func (m *Machine) enter(span trace.Span, p Phase, u Update) {
	span.AddEvent(string(p))
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
	u.Phase = p
	m.observer.Stage(u)
}

func (m *Machine) abort(span trace.Span, cause error) error {
	m.cancelled.Add(1)
	span.SetAttributes(attribute.Bool("cancelled", true))
	slog.Debug("conveyor: run cancelled", "phase", m.Phase(), "cause", cause)
	m.enter(span, PhaseIdle, Update{})
	return ErrCancelled
}

// sleep waits for d or until ctx ends, whichever is first.
func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopObserver struct{}

func (nopObserver) Stage(Update)  {}
func (nopObserver) Status(Status) {}
