package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/kindredhq/kindred/pkg/audit"
	"github.com/kindredhq/kindred/pkg/authz"
	"github.com/kindredhq/kindred/pkg/observability"
	"github.com/kindredhq/kindred/pkg/session"
)

var (
	// ErrWrongFormat is returned when the challenge reply payload is not a
	// JSON string.
	ErrWrongFormat = errors.New("wrong response format")

	// ErrTokenNotFound is returned when the presented session key does not
	// resolve to a live session.
	ErrTokenNotFound = errors.New("session token not found")

	// ErrChallengeTimeout is returned when the client fails to answer the
	// challenge in time.
	ErrChallengeTimeout = errors.New("challenge timeout")
)

// Authorizer runs the challenge/response handshake that binds an anonymous
// websocket connection to an authenticated HTTP session.
type Authorizer struct {
	sessions session.Store
	timeout  time.Duration
	logger   *observability.Logger
	auditor  audit.Logger
	metrics  *observability.Metrics
}

// NewAuthorizer builds a handshake authorizer backed by the given session
// store. timeout bounds how long a client may take to answer the challenge.
func NewAuthorizer(sessions session.Store, timeout time.Duration, logger *observability.Logger, auditor audit.Logger, metrics *observability.Metrics) *Authorizer {
	return &Authorizer{
		sessions: sessions,
		timeout:  timeout,
		logger:   logger,
		auditor:  auditor,
		metrics:  metrics,
	}
}

// handshakeResult carries the single outcome of a challenge out of the
// reply handler or the timer, whichever claims it first.
type handshakeResult struct {
	principal *authz.Principal
	err       error
}

// Authorize challenges the connection and waits for the reply. On success
// the connection is marked authorized, told so with an "authorized" event,
// and the bound principal is returned. On failure the connection is marked
// rejected and an error is returned; closing the transport is the caller's
// decision.
//
// Exactly one outcome is ever produced per handshake. A reply that arrives
// after the timeout fired is ignored, as is a second reply after the first.
//
// onAuthorized, when non-nil, runs after the state transition but before
// the "authorized" event is sent, so the caller can bind the authorized
// event surface before the client learns it may use it.
func (a *Authorizer) Authorize(ctx context.Context, t Transport, onAuthorized func(*authz.Principal)) (*authz.Principal, error) {
	var (
		mu      sync.Mutex
		decided bool
	)
	results := make(chan handshakeResult, 1)

	// claim marks the handshake decided. The first caller wins; everyone
	// else gets false and must drop their outcome.
	claim := func() bool {
		mu.Lock()
		defer mu.Unlock()
		if decided {
			return false
		}
		decided = true
		return true
	}

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	t.On("challenge", func(data json.RawMessage, ack AckFunc) {
		if !claim() {
			return
		}
		timer.Stop()

		var key string
		if err := json.Unmarshal(data, &key); err != nil || key == "" {
			results <- handshakeResult{err: ErrWrongFormat}
			return
		}

		sess, err := a.sessions.Get(ctx, key)
		switch {
		case errors.Is(err, session.ErrNotFound):
			results <- handshakeResult{err: ErrTokenNotFound}
		case err != nil:
			results <- handshakeResult{err: err}
		default:
			results <- handshakeResult{principal: &authz.Principal{
				ID:       sess.UserID,
				Email:    sess.Email,
				IsAdmin:  sess.IsAdmin,
				NoAccess: sess.NoAccess,
			}}
		}
	})

	t.SetState(StateChallenged)
	if err := t.Emit("challenge", nil); err != nil {
		t.SetState(StateRejected)
		return nil, err
	}

	var res handshakeResult
	select {
	case res = <-results:
	case <-timer.C:
		if claim() {
			res = handshakeResult{err: ErrChallengeTimeout}
		} else {
			// The reply handler won the race just as the timer fired;
			// its outcome is already on the way.
			res = <-results
		}
	case <-ctx.Done():
		if claim() {
			res = handshakeResult{err: ctx.Err()}
		} else {
			res = <-results
		}
	}

	if res.err != nil {
		t.SetState(StateRejected)
		a.recordFailure(t, res.err)
		return nil, res.err
	}

	t.SetState(StateAuthorized)
	if onAuthorized != nil {
		onAuthorized(res.principal)
	}
	if err := t.Emit("authorized", nil); err != nil {
		a.logger.WithError(err).WithField("conn_id", t.ID()).Warn("failed to notify client of authorization")
	}

	a.logger.WithFields(map[string]interface{}{
		"conn_id": t.ID(),
		"user_id": res.principal.ID,
	}).Info("websocket connection authorized")
	if a.metrics != nil {
		a.metrics.HandshakesTotal.WithLabelValues("authorized").Inc()
	}
	if a.auditor != nil {
		_ = a.auditor.Log(audit.Event{
			EventType:    audit.EventTypeHandshakeSuccess,
			Transport:    "socket",
			PrincipalID:  res.principal.ID,
			Email:        res.principal.Email,
			ConnectionID: t.ID(),
		})
	}

	return res.principal, nil
}

func (a *Authorizer) recordFailure(t Transport, err error) {
	outcome := "store_error"
	switch {
	case errors.Is(err, ErrChallengeTimeout):
		outcome = "timeout"
	case errors.Is(err, ErrWrongFormat):
		outcome = "bad_format"
	case errors.Is(err, ErrTokenNotFound):
		outcome = "token_not_found"
	}

	a.logger.WithError(err).WithFields(map[string]interface{}{
		"conn_id": t.ID(),
		"outcome": outcome,
	}).Warn("websocket handshake failed")

	if a.metrics != nil {
		a.metrics.HandshakesTotal.WithLabelValues(outcome).Inc()
	}
	if a.auditor != nil {
		_ = a.auditor.Log(audit.Event{
			EventType:    audit.EventTypeHandshakeFailed,
			Transport:    "socket",
			Reason:       err.Error(),
			ConnectionID: t.ID(),
		})
	}
}
