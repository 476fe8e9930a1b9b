package conveyor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/obsidianstack/sortline/internal/material"
	"github.com/obsidianstack/sortline/internal/notify"
	"github.com/obsidianstack/sortline/pkg/types"
)

// FaultLabel is the material recorded for a simulated fault.
const FaultLabel = "Camera Obstructed"

// DefaultPeriod is the interval between run triggers.
const DefaultPeriod = 5 * time.Second

var (
	// ErrNotRunning is returned by Fault while the conveyor is paused.
	ErrNotRunning = errors.New("conveyor: not running")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("conveyor: scheduler closed")
)

// State is the system status shown by the status light.
type State string

const (
	StateOffline State = "offline"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateFault   State = "fault"
)

// Status is the status light and its caption.
type Status struct {
	State State  `json:"state"`
	Text  string `json:"text"`
	Light string `json:"light"`
}

var (
	statusOffline = Status{State: StateOffline, Text: "System is offline", Light: "gray"}
	statusRunning = Status{State: StateRunning, Text: "System operating normally", Light: "green"}
	statusPaused  = Status{State: StatePaused, Text: "Conveyor paused", Light: "yellow"}
	statusFault   = Status{State: StateFault, Text: "SYSTEM FAULT: " + FaultLabel, Light: "red"}
)

// Scheduler triggers Machine runs at a fixed period while active.
type Scheduler struct {
	machine  *Machine
	log      Appender
	observer Observer
	notifier notify.Notifier
	period   time.Duration

	// ctl serialises Start, Stop, Close and Fault.
	ctl    sync.Mutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup

	active atomic.Bool
	faults atomic.Uint64

	mu     sync.RWMutex
	status Status
}

// NewScheduler returns a paused scheduler in the offline state.
// obs and n may be nil.
func NewScheduler(m *Machine, log Appender, period time.Duration, obs Observer, n notify.Notifier) *Scheduler {
	if period <= 0 {
		period = DefaultPeriod
	}
	if obs == nil {
		obs = nopObserver{}
	}
	if n == nil {
		n = notify.Func(func(string, notify.Severity) {})
	}
	return &Scheduler{
		machine:  m,
		log:      log,
		observer: obs,
		notifier: n,
		period:   period,
		status:   statusOffline,
	}
}

// Start begins triggering runs. It is a no-op while already active.
func (s *Scheduler) Start() error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.active.Load() {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.active.Store(true)
	s.wg.Add(1)
	go s.loop(ctx)

	slog.Info("conveyor: started", "period", s.period)
	s.setStatus(statusRunning)
	s.notifier.Notify("Conveyor started.", notify.SeveritySuccess)
	return nil
}

// Stop cancels any run in flight and disables the trigger. It returns after
// the run goroutines have exited. It is a no-op while paused.
func (s *Scheduler) Stop() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if !s.stopLocked() {
		return
	}
	s.setStatus(statusPaused)
	s.notifier.Notify("Conveyor paused.", notify.SeverityInfo)
}

func (s *Scheduler) stopLocked() bool {
	if !s.active.Load() {
		return false
	}
	s.active.Store(false)
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
	slog.Info("conveyor: stopped")
	return true
}

// Close stops the scheduler for good. Later Start calls return ErrClosed.
func (s *Scheduler) Close() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if s.closed {
		return
	}
	s.stopLocked()
	s.closed = true
	s.setStatus(statusOffline)
}

// Active reports whether runs are being triggered.
func (s *Scheduler) Active() bool { return s.active.Load() }

// Status returns the current status light.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Faults returns how many fault events have been appended.
func (s *Scheduler) Faults() uint64 { return s.faults.Load() }

// Machine returns the machine driven by s.
func (s *Scheduler) Machine() *Machine { return s.machine }

// Fault appends a simulated camera fault. It never touches the run in flight
// and is only permitted while the conveyor is active. It holds ctl, so Stop
// and Close wait for a fault in progress and their status lands last.
func (s *Scheduler) Fault(ctx context.Context) (types.SortEvent, error) {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	if !s.active.Load() {
		s.notifier.Notify("Start conveyor to simulate a fault.", notify.SeverityError)
		return types.SortEvent{}, ErrNotRunning
	}

	prof := material.ProfileOf(FaultLabel)
	ev, err := s.log.Append(ctx, types.SortEvent{
		Material:       FaultLabel,
		Category:       prof.Category,
		Destination:    prof.Destination,
		Confidence:     0,
		DetectorResult: types.DetectorNone,
		IsFault:        true,
	})
	if err != nil {
		slog.Error("conveyor: failed to log fault", "err", err)
		s.notifier.Notify("Failed to log data.", notify.SeverityError)
		err = fmt.Errorf("conveyor: log fault: %w", err)
	} else {
		s.faults.Add(1)
		slog.Warn("conveyor: fault triggered", "id", ev.ID, "label", FaultLabel)
	}

	s.setStatus(statusFault)
	s.notifier.Notify(FaultLabel, notify.SeverityError)
	return ev, err
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.trigger(ctx)
		}
	}
}

// trigger starts a run unless one is in flight.
func (s *Scheduler) trigger(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, err := s.machine.Run(ctx)
		switch {
		case err == nil, errors.Is(err, ErrCancelled):
		case errors.Is(err, ErrBusy):
			slog.Debug("conveyor: trigger skipped, run in flight")
		default:
			slog.Warn("conveyor: run failed", "err", err)
		}
	}()
}

func (s *Scheduler) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
	s.observer.Status(st)
}
