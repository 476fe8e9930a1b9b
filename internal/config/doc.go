// Package config loads the sortline configuration from config.yaml.
//
// Sections:
//   - log        level of the JSON process logger
//   - server     HTTP port and API-key auth for mutating calls
//   - conveyor   run period, stage delays, classifier seed, autostart
//   - dashboard  default time filter, refresh interval, log limit
//   - storage    memory or postgres (DSN read from dsn_env)
//   - notify     webhook targets and an optional MQTT broker
//   - alerts     threshold rules evaluated on each dashboard snapshot
//   - tracing    span exporter (none or stdout)
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, fn) reloads the file on change via fsnotify.
package config
