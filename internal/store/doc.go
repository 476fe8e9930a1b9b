// Package store is the append-only sort event log. Log wraps a Backend
// (in-memory, or Postgres with embedded migrations), stamps new events with
// an id and the store time, and pushes the full timestamp-descending log to
// every subscriber after each change. Subscribers are never handed a cached
// copy: each delivery re-reads the backend.
package store
