package notify

import (
	"fmt"
	"log/slog"
	"time"
)

// Severity classifies a notification.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
)

// ParseSeverity converts s to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(s); sev {
	case SeveritySuccess, SeverityError, SeverityInfo:
		return sev, nil
	default:
		return "", fmt.Errorf("notify: unknown severity %q: want success|error|info", s)
	}
}

// Notifier receives notifications. Implementations must not block the
// caller for long; slow deliveries run in the background.
type Notifier interface {
	Notify(message string, sev Severity)
}

// Func adapts a plain function to Notifier.
type Func func(message string, sev Severity)

func (f Func) Notify(message string, sev Severity) { f(message, sev) }

// Notification is the serialized form shared by the remote sinks.
type Notification struct {
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
	Time     time.Time `json:"time"`
}

// Logger writes notifications to the default slog logger.
type Logger struct{}

func (Logger) Notify(message string, sev Severity) {
	switch sev {
	case SeverityError:
		slog.Warn("notify: "+message, "severity", sev)
	default:
		slog.Info("notify: "+message, "severity", sev)
	}
}

// Fanout forwards each notification to every sink in order.
type Fanout []Notifier

func (f Fanout) Notify(message string, sev Severity) {
	for _, n := range f {
		if n != nil {
			n.Notify(message, sev)
		}
	}
}

// Levels forwards only notifications whose severity is in allow.
func Levels(next Notifier, allow ...Severity) Notifier {
	set := make(map[Severity]bool, len(allow))
	for _, s := range allow {
		set[s] = true
	}
	return Func(func(message string, sev Severity) {
		if set[sev] {
			next.Notify(message, sev)
		}
	})
}
