// Package alerts implements threshold rules over the live dashboard snapshot.
// Rules are evaluated on every published snapshot; firing and resolving are
// delivered through the notify boundary, so webhooks, MQTT and websocket
// toasts all see them.
package alerts
