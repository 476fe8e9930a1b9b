package compute

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/obsidianstack/sortline/internal/material"
	"github.com/obsidianstack/sortline/pkg/types"
)

const (
	// BucketWidth is the width of one trend bucket.
	BucketWidth = 10 * time.Second

	// DefaultLogLimit is how many of the newest entries a snapshot renders.
	DefaultLogLimit = 100

	// minThroughputSpan is the shortest timestamped span that yields a rate.
	minThroughputSpan = 1.0 // seconds
)

// Log entry kinds, used by the UI to pick a colour.
const (
	EntryFault    = "fault"
	EntryRecycled = "recycled"
	EntrySpecial  = "special"
	EntryDumped   = "dumped"
)

// Snapshot is the fully derived dashboard state for one (log, filter, now).
// It is never persisted.
type Snapshot struct {
	Filter      string    `json:"filter"`
	GeneratedAt time.Time `json:"generated_at"`

	Total      int `json:"total"`
	FaultCount int `json:"fault_count"`

	ThroughputPerMin float64 `json:"throughput_per_min"`
	AccuracyPct      int     `json:"accuracy_pct"`

	CategoryCounts map[types.Category]int `json:"category_counts"`
	RecycledCounts map[string]int         `json:"recycled_counts"`
	RecycledSplit  Split                  `json:"recycled_split"`

	Trend  []Bucket   `json:"trend"`
	Recent []LogEntry `json:"recent"`
}

// Split is the recycled vs dumped-or-special comparison.
type Split struct {
	Recycled int `json:"recycled"`
	Other    int `json:"other"`
}

// Bucket is one trend point: the number of non-fault events whose timestamp
// falls in [Start, Start+BucketWidth).
type Bucket struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// LogEntry is one rendered line of the event log.
type LogEntry struct {
	Event   types.SortEvent `json:"event"`
	Kind    string          `json:"kind"`
	Time    string          `json:"time"` // local "15:04:05", or "..." before the store stamps it
	Message string          `json:"message"`
}

// Aggregate derives a Snapshot from events, which the store hands over
// ordered by timestamp descending. It never mutates events.
func Aggregate(events []types.SortEvent, f Filter, now time.Time) Snapshot {
	return AggregateLimit(events, f, now, DefaultLogLimit)
}

// AggregateLimit is Aggregate with an explicit cap on rendered log entries.
// A non-positive limit renders none.
func AggregateLimit(events []types.SortEvent, f Filter, now time.Time, limit int) Snapshot {
	data := filterEvents(events, f, now)

	out := Snapshot{
		Filter:         f.String(),
		GeneratedAt:    now,
		Total:          len(data),
		CategoryCounts: make(map[types.Category]int),
		RecycledCounts: make(map[string]int),
		Trend:          []Bucket{},
		Recent:         []LogEntry{},
	}
	if len(data) == 0 {
		return out
	}

	out.ThroughputPerMin = throughput(data)
	out.AccuracyPct = accuracy(data)

	trend := make(map[int64]int)
	for _, ev := range data {
		if ev.IsFault {
			out.FaultCount++
			continue
		}
		out.CategoryCounts[ev.Category]++
		if ev.Category == types.CategoryRecycled {
			out.RecycledCounts[ev.Material]++
			out.RecycledSplit.Recycled++
		} else {
			out.RecycledSplit.Other++
		}
		if ev.HasTimestamp() {
			trend[BucketStart(ev.Timestamp).Unix()]++
		}
	}

	for start, n := range trend {
		out.Trend = append(out.Trend, Bucket{Start: time.Unix(start, 0).UTC(), Count: n})
	}
	sort.Slice(out.Trend, func(i, j int) bool { return out.Trend[i].Start.Before(out.Trend[j].Start) })

	if limit > len(data) {
		limit = len(data)
	}
	for _, ev := range data[:max(limit, 0)] {
		out.Recent = append(out.Recent, renderEntry(ev))
	}

	return out
}

// BucketStart truncates ts to the enclosing 10-second wall-clock bucket with
// the sub-second component zeroed.
func BucketStart(ts time.Time) time.Time {
	return ts.UTC().Truncate(BucketWidth)
}

// filterEvents keeps every event for "all"; otherwise only stamped events
// younger than the window.
func filterEvents(events []types.SortEvent, f Filter, now time.Time) []types.SortEvent {
	if f.All() {
		return events
	}
	out := make([]types.SortEvent, 0, len(events))
	for _, ev := range events {
		if ev.HasTimestamp() && now.Sub(ev.Timestamp) < f.Window {
			out = append(out, ev)
		}
	}
	return out
}

// throughput is items per minute over the span between the oldest and newest
// stamped events. The numerator is every filtered entry.
func throughput(data []types.SortEvent) float64 {
	stamped := make([]time.Time, 0, len(data))
	for _, ev := range data {
		if ev.HasTimestamp() {
			stamped = append(stamped, ev.Timestamp)
		}
	}
	if len(stamped) < 2 {
		return 0
	}
	sort.Slice(stamped, func(i, j int) bool { return stamped[i].Before(stamped[j]) })

	span := stamped[len(stamped)-1].Sub(stamped[0]).Seconds()
	if span <= minThroughputSpan {
		return 0
	}
	return round1(float64(len(data)) / span * 60)
}

// accuracy is the rounded share of entries not classified as unknown.
func accuracy(data []types.SortEvent) int {
	if len(data) == 0 {
		return 0
	}
	var specific int
	for _, ev := range data {
		if ev.Material != string(material.Unknown) {
			specific++
		}
	}
	return int(math.Round(float64(specific) / float64(len(data)) * 100))
}

func renderEntry(ev types.SortEvent) LogEntry {
	e := LogEntry{Event: ev, Time: "..."}
	if ev.HasTimestamp() {
		e.Time = ev.Timestamp.Local().Format(time.TimeOnly)
	}

	name := material.DisplayName(ev.Material)
	switch {
	case ev.IsFault:
		e.Kind = EntryFault
		e.Message = "SYSTEM FAULT: " + name
	case ev.Category == types.CategoryRecycled:
		e.Kind = EntryRecycled
		e.Message = fmt.Sprintf("Recycled: %s (Conf: %d%%)", name, ev.Confidence)
	case ev.Category == types.CategorySpecial:
		e.Kind = EntrySpecial
		e.Message = fmt.Sprintf("Special: %s (Conf: %d%%)", name, ev.Confidence)
	default:
		e.Kind = EntryDumped
		e.Message = fmt.Sprintf("Dumped: %s (Conf: %d%%)", name, ev.Confidence)
	}
	return e
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
