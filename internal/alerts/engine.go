package alerts

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/obsidianstack/sortline/internal/compute"
	"github.com/obsidianstack/sortline/internal/config"
	"github.com/obsidianstack/sortline/internal/notify"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	Condition  string     `json:"condition"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

// Engine evaluates alert rules against dashboard snapshots and sends a
// notification when a rule fires or resolves.
//
// Engine is safe for concurrent use.
type Engine struct {
	notifier notify.Notifier
	now      func() time.Time

	mu       sync.Mutex
	rules    []config.AlertRule
	active   map[string]*Alert    // key: rule name
	lastFire map[string]time.Time // last fire time per rule (for cooldown)
	history  []*Alert             // recently resolved alerts
}

// New creates an Engine. An Engine with no rules is valid; Evaluate becomes
// a no-op. n may be nil.
func New(cfg config.AlertsConfig, n notify.Notifier) *Engine {
	if n == nil {
		n = notify.Logger{}
	}
	e := &Engine{
		notifier: n,
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}
	e.SetRules(cfg.Rules)
	return e
}

// SetRules replaces the rule set. Alerts for rules that no longer exist are
// dropped without a resolve notification. Unparseable conditions are logged
// and skipped.
func (e *Engine) SetRules(rules []config.AlertRule) {
	valid := make([]config.AlertRule, 0, len(rules))
	names := make(map[string]bool, len(rules))
	for _, r := range rules {
		if !validCondition(r.Condition) {
			slog.Warn("alerts: skipping rule with invalid condition",
				"rule", r.Name, "condition", r.Condition)
			continue
		}
		valid = append(valid, r)
		names[r.Name] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = valid
	for name := range e.active {
		if !names[name] {
			delete(e.active, name)
			delete(e.lastFire, name)
		}
	}
	slog.Info("alerts: rules loaded", "count", len(valid))
}

// Publish implements dashboard.Sink.
func (e *Engine) Publish(snap compute.Snapshot) { e.Evaluate(snap) }

// Evaluate tests all configured rules against snap.
// Rules that fire are recorded and notified. Alerts that were firing but
// whose condition is now false are resolved.
func (e *Engine) Evaluate(snap compute.Snapshot) {
	e.mu.Lock()
	rules := e.rules
	e.mu.Unlock()
	if len(rules) == 0 {
		return
	}

	now := e.now()
	for _, rule := range rules {
		fires, value := evalCondition(rule.Condition, snap)
		if fires {
			e.fire(rule, value, now)
		} else {
			e.resolve(rule, now)
		}
	}
}

func (e *Engine) fire(rule config.AlertRule, value float64, now time.Time) {
	cooldown := rule.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	sev := rule.Severity
	if sev == "" {
		sev = "warning"
	}

	e.mu.Lock()
	if a, ok := e.active[rule.Name]; ok && a.State == StateFiring {
		a.Value = value
		e.mu.Unlock()
		return
	}
	if last, ok := e.lastFire[rule.Name]; ok && now.Sub(last) <= cooldown {
		e.mu.Unlock()
		return
	}
	a := &Alert{
		ID:        fmt.Sprintf("%s:%d", rule.Name, now.UnixNano()),
		RuleName:  rule.Name,
		Condition: rule.Condition,
		Severity:  sev,
		Value:     value,
		Message:   fmt.Sprintf("[%s] %s fired: %s (value %.2f)", sev, rule.Name, rule.Condition, value),
		FiredAt:   now,
		State:     StateFiring,
	}
	e.active[rule.Name] = a
	e.lastFire[rule.Name] = now
	msg := a.Message
	e.mu.Unlock()

	slog.Warn("alerts: fired",
		"rule", rule.Name,
		"value", value,
		"severity", sev,
	)
	e.notifier.Notify(msg, notify.SeverityError)
}

func (e *Engine) resolve(rule config.AlertRule, now time.Time) {
	e.mu.Lock()
	a, ok := e.active[rule.Name]
	if !ok || a.State != StateFiring {
		e.mu.Unlock()
		return
	}
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	delete(e.active, rule.Name)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	e.mu.Unlock()

	slog.Info("alerts: resolved", "rule", rule.Name)
	e.notifier.Notify(fmt.Sprintf("%s resolved.", rule.Name), notify.SeverityInfo)
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Firing returns how many rules are currently firing.
func (e *Engine) Firing() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}
