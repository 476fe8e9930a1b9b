// Package notify is the notification boundary: short user-facing messages
// ("Plastic sorted.", "Failed to log data.") tagged with a severity.
//
// Sinks:
//   - Logger   writes every notification to slog
//   - Webhook  posts to Slack, Teams or a generic HTTP endpoint
//   - MQTT     publishes a JSON payload to a broker topic
//   - Fanout   forwards to several sinks
//   - Levels   drops notifications outside a severity set
//
// The websocket toast sink lives in package ws.
package notify
