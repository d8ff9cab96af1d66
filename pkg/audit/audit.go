// Package audit records security-relevant events — authorization denials,
// logins, logouts — as JSON lines. The denial trail is the only record of
// authorization refusals, so writing it is not optional instrumentation.
package audit

import (
	"time"
)

// EventType categorizes an audit event
type EventType string

const (
	EventTypeAuthLogin        EventType = "auth.login"
	EventTypeAuthLoginFailed  EventType = "auth.login_failed"
	EventTypeAuthLogout       EventType = "auth.logout"
	EventTypeAccessDenied     EventType = "authz.access_denied"
	EventTypeHandshakeFailed  EventType = "realtime.handshake_failed"
	EventTypeHandshakeSuccess EventType = "realtime.handshake_authorized"
)

// Event is a single audit log entry
type Event struct {
	Timestamp    time.Time `json:"timestamp"`
	EventType    EventType `json:"event_type"`
	Transport    string    `json:"transport,omitempty"` // "http" or "socket"
	Resource     string    `json:"resource,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	PrincipalID  string    `json:"principal_id,omitempty"`
	Email        string    `json:"email,omitempty"`
	RequireAdmin bool      `json:"require_admin,omitempty"`
	ConnectionID string    `json:"connection_id,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
}

// Logger persists audit events
type Logger interface {
	Log(event Event) error
	Close() error
}

// NopLogger discards events; used in tests and when no audit path is
// configured (denials are still logged through the structured logger).
type NopLogger struct{}

func (NopLogger) Log(Event) error { return nil }
func (NopLogger) Close() error    { return nil }
