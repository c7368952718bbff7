// Package audit emits structured audit log entries for sign-ins, gate
// denials and content mutations.
package audit

import "log/slog"

// Enabled controls whether audit log entries are emitted. Set to false to
// suppress all audit output (useful in tests that don't exercise auditing).
var Enabled = true

// Event represents a structured audit log entry with typed fields.
// Only non-zero fields are included in the log output.
type Event struct {
	Actor      string // Email of the signed-in user, or "anonymous".
	Role       string // Resolved role at the time of the action.
	Action     string // What was done (e.g. "post.create", "sign_in").
	Status     string // Outcome: "granted", "denied", "failed", "succeeded".
	Resource   string // Target id or path.
	Method     string // HTTP method.
	HTTPStatus int    // HTTP response status code.
	Reason     string // Explanation for denial or failure.
	IP         string // Client IP address.
	Channel    string // "web" for cookie sessions, "api" for bearer tokens.
	Extra      []any  // Additional slog attrs for one-off fields.
}

// Info emits the event as an INFO-level structured audit log entry.
func (e Event) Info(msg string) {
	if !Enabled {
		return
	}
	slog.Info(msg, slog.Group("audit", e.attrs()...)) //nolint:gosec // structured logger safely escapes taint
}

// Warn emits the event as a WARN-level structured audit log entry.
func (e Event) Warn(msg string) {
	if !Enabled {
		return
	}
	slog.Warn(msg, slog.Group("audit", e.attrs()...)) //nolint:gosec // structured logger safely escapes taint
}

// attrs builds the slog attribute list, skipping zero-value fields.
func (e Event) attrs() []any {
	var attrs []any
	add := func(key, val string) {
		if val != "" {
			attrs = append(attrs, slog.String(key, val))
		}
	}
	add("actor", e.Actor)
	add("role", e.Role)
	add("action", e.Action)
	add("status", e.Status)
	add("resource", e.Resource)
	add("method", e.Method)
	if e.HTTPStatus != 0 {
		attrs = append(attrs, slog.Int("http_status", e.HTTPStatus))
	}
	add("reason", e.Reason)
	add("ip_address", e.IP)
	add("channel", e.Channel)
	attrs = append(attrs, e.Extra...)
	return attrs
}
