package types

import "time"

// Category is the disposal class a material profile assigns to an item.
type Category string

// Disposal categories.
const (
	CategoryRecycled Category = "recycled"
	CategoryDumped   Category = "dumped"
	CategorySpecial  Category = "special"
)

// Detector results reported by the coarse binary detector.
const (
	DetectorOrganic   = "Organic"
	DetectorInorganic = "Inorganic"
	DetectorNone      = "N/A" // fault events carry no detector reading
)

// SortEvent is one append-only log entry, created once per completed run or
// per fault trigger and never mutated afterwards.
type SortEvent struct {
	ID string `json:"id"`

	// Material is a material kind name, or the fault label for fault events.
	Material    string   `json:"material"`
	Category    Category `json:"category"`
	Destination string   `json:"destination"`

	Confidence     int    `json:"confidence"`
	DetectorResult string `json:"detector_result"`
	IsFault        bool   `json:"is_fault"`

	// Timestamp is assigned by the store. A zero value means the store has not
	// stamped the event yet; such events are excluded from windowed views.
	Timestamp time.Time `json:"timestamp"`
}

// HasTimestamp reports whether the store has stamped e.
func (e SortEvent) HasTimestamp() bool {
	return !e.Timestamp.IsZero()
}
