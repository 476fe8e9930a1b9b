// Package types defines shared Go types used by the conveyor, the event log
// and the dashboard. SortEvent is the canonical in-memory representation of
// one persisted log entry; the Postgres backend and the JSON API both map to
// and from it.
package types
