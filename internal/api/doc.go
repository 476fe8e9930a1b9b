// Package api implements the HTTP REST API for sortline.
//
// New(deps, mutating) returns an http.Handler that serves:
//
//	GET    /api/v1/health           conveyor status, phase, log stream state
//	GET    /api/v1/snapshot         live dashboard snapshot (?filter= for a one-off window)
//	GET    /api/v1/events           event log, newest first (?limit=n)
//	DELETE /api/v1/events           clear the whole log
//	GET    /api/v1/filter           active time filter
//	PUT    /api/v1/filter           set the time filter: {"filter": "all" | "<seconds>"}
//	POST   /api/v1/conveyor/start   start the conveyor
//	POST   /api/v1/conveyor/stop    pause the conveyor
//	POST   /api/v1/conveyor/fault   simulate a camera fault (409 while paused)
//	GET    /api/v1/alerts           firing and recently resolved alerts
//	GET    /metrics                 Prometheus text exposition
//
// JSON endpoints respond with Content-Type: application/json and return 405
// for unsupported methods. State-changing routes go through the mutating
// middleware (API-key auth in production).
package api
