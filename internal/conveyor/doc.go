// Package conveyor drives the simulated sorting line.
//
// Machine runs one item at a time through the timed phases
//
//	Idle → SensorDetect → MLClassify → Routed → Logging → Idle
//
// publishing an Update to the Observer on every phase change and appending
// exactly one event at Logging. The run context is checked at every delay;
// a cancelled run before Logging appends nothing and returns ErrCancelled.
//
// Scheduler owns the running/paused toggle and the period ticker that
// triggers runs, plus the fault trigger that bypasses the phases entirely.
package conveyor
