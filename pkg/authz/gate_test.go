package authz

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kindredhq/kindred/pkg/audit"
	"github.com/kindredhq/kindred/pkg/observability"
)

func testGate() *Gate {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewGate(logger, audit.NopLogger{}, nil)
}

func TestDecide(t *testing.T) {
	t.Run("no principal denies as not authenticated", func(t *testing.T) {
		d := Decide(nil, Rule{Resource: "profile"})
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonNotAuthenticated, d.Reason)
	})

	t.Run("empty principal id denies as not authenticated", func(t *testing.T) {
		d := Decide(&Principal{}, Rule{Resource: "profile"})
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonNotAuthenticated, d.Reason)
	})

	t.Run("noAccess denies even authenticated principals", func(t *testing.T) {
		d := Decide(&Principal{ID: "u1"}, Rule{Resource: "retired", NoAccess: true})
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonNoAccess, d.Reason)
	})

	t.Run("noAccess denies admins too", func(t *testing.T) {
		d := Decide(&Principal{ID: "u1", IsAdmin: true}, Rule{Resource: "retired", NoAccess: true})
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonNoAccess, d.Reason)
	})

	t.Run("locked-out principal denied on any guarded rule", func(t *testing.T) {
		d := Decide(&Principal{ID: "u1", NoAccess: true}, Rule{Resource: "profile"})
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonNoAccess, d.Reason)
	})

	t.Run("locked-out admin still denied", func(t *testing.T) {
		d := Decide(&Principal{ID: "u1", IsAdmin: true, NoAccess: true}, Rule{Resource: "admin panel", RequireAdmin: true})
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonNoAccess, d.Reason)
	})

	t.Run("admin required denies non-admin", func(t *testing.T) {
		d := Decide(&Principal{ID: "u1", IsAdmin: false}, Rule{Resource: "admin panel", RequireAdmin: true})
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonInsufficientPrivilege, d.Reason)
	})

	t.Run("admin required allows admin", func(t *testing.T) {
		d := Decide(&Principal{ID: "u1", IsAdmin: true}, Rule{Resource: "admin panel", RequireAdmin: true})
		assert.True(t, d.Allowed)
		assert.Empty(t, d.Reason)
	})

	t.Run("plain rule allows any authenticated principal", func(t *testing.T) {
		d := Decide(&Principal{ID: "u2"}, Rule{Resource: "profile"})
		assert.True(t, d.Allowed)
	})

	t.Run("unauthenticated wins over noAccess in reason", func(t *testing.T) {
		// evaluation order: authentication is checked first
		d := Decide(nil, Rule{Resource: "retired", NoAccess: true})
		assert.Equal(t, ReasonNotAuthenticated, d.Reason)
	})
}

// recordingAuditor captures audit events for assertions
type recordingAuditor struct {
	events []audit.Event
}

func (r *recordingAuditor) Log(e audit.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recordingAuditor) Close() error { return nil }

func TestGate_Authorize_AuditsDenials(t *testing.T) {
	rec := &recordingAuditor{}
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	gate := NewGate(logger, rec, nil)

	gate.Authorize("http", nil, Rule{Resource: "profile"})
	gate.Authorize("socket", &Principal{ID: "u1", Email: "u1@example.com"}, Rule{
		Resource:     "admin panel",
		RequireAdmin: true,
	})
	gate.Authorize("http", &Principal{ID: "u2"}, Rule{Resource: "profile"}) // allowed, no audit

	if assert.Len(t, rec.events, 2) {
		assert.Equal(t, audit.EventTypeAccessDenied, rec.events[0].EventType)
		assert.Equal(t, "http", rec.events[0].Transport)
		assert.Equal(t, ReasonNotAuthenticated, rec.events[0].Reason)
		assert.Empty(t, rec.events[0].PrincipalID)

		assert.Equal(t, "socket", rec.events[1].Transport)
		assert.Equal(t, "admin panel", rec.events[1].Resource)
		assert.Equal(t, ReasonInsufficientPrivilege, rec.events[1].Reason)
		assert.Equal(t, "u1", rec.events[1].PrincipalID)
		assert.True(t, rec.events[1].RequireAdmin)
	}
}

func TestGate_GuardSocket(t *testing.T) {
	gate := testGate()

	t.Run("deny acks error and skips next", func(t *testing.T) {
		var acked interface{}
		nextCalled := false

		gate.GuardSocket(nil, Rule{Resource: "socket:subscribe"}, func(payload interface{}) {
			acked = payload
		}, func() {
			nextCalled = true
		})

		assert.False(t, nextCalled)
		sockErr, ok := acked.(SocketError)
		if assert.True(t, ok) {
			assert.Equal(t, "Not Allowed", sockErr.Error)
			assert.Equal(t, ReasonNotAuthenticated, sockErr.Reason)
		}
	})

	t.Run("allow calls next without ack", func(t *testing.T) {
		acked := false
		nextCalled := false

		gate.GuardSocket(&Principal{ID: "u1"}, Rule{Resource: "socket:subscribe"}, func(interface{}) {
			acked = true
		}, func() {
			nextCalled = true
		})

		assert.True(t, nextCalled)
		assert.False(t, acked)
	})

	t.Run("nil ack on deny is tolerated", func(t *testing.T) {
		gate.GuardSocket(nil, Rule{Resource: "x"}, nil, func() {
			t.Fatal("next must not run on denial")
		})
	})
}
