// Package ws implements the WebSocket hub for the sortline dashboard.
//
// Hub is the display and toast boundary: it implements dashboard.Sink,
// conveyor.Observer and notify.Notifier, and fans every message out to the
// connected clients. New clients receive the latest snapshot and status on
// connect. The hub is mounted at /ws/stream.
//
// Message format sent to clients:
//
//	{
//	  "event": "snapshot" | "stage" | "status" | "toast",
//	  "data":  { ... }
//	}
//
// snapshot data has the same schema as GET /api/v1/snapshot.
package ws
