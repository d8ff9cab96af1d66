package authz

import (
	"github.com/kindredhq/kindred/pkg/audit"
	"github.com/kindredhq/kindred/pkg/observability"
)

// Principal identifies the authenticated actor behind a request or socket
// connection. A nil Principal means unauthenticated.
type Principal struct {
	ID      string
	Email   string
	IsAdmin bool

	// NoAccess marks a locked-out account. Such a principal can hold a
	// session but is denied every guarded resource.
	NoAccess bool
}

// Rule describes what a resource requires of its caller.
type Rule struct {
	// Resource is free text naming the guarded resource, used only for
	// audit logging.
	Resource string

	// RequireAdmin allows only admin principals.
	RequireAdmin bool

	// NoAccess denies everyone, authenticated or not. Used to switch a
	// route off while keeping its wiring in place.
	NoAccess bool
}

// Denial reasons, in decision order.
const (
	ReasonNotAuthenticated      = "not authenticated"
	ReasonNoAccess              = "no access"
	ReasonInsufficientPrivilege = "insufficient privilege"
)

// Decision is the gate's verdict.
type Decision struct {
	Allowed bool
	Reason  string
}

// Decide evaluates the rule against the principal. Checks run in order and
// the first match wins.
func Decide(p *Principal, rule Rule) Decision {
	if p == nil || p.ID == "" {
		return Decision{Allowed: false, Reason: ReasonNotAuthenticated}
	}
	if rule.NoAccess || p.NoAccess {
		return Decision{Allowed: false, Reason: ReasonNoAccess}
	}
	if rule.RequireAdmin && !p.IsAdmin {
		return Decision{Allowed: false, Reason: ReasonInsufficientPrivilege}
	}
	return Decision{Allowed: true}
}

// Gate couples the decision function with the mandatory denial audit trail
// and metrics. One Gate instance serves both transports.
type Gate struct {
	logger  *observability.Logger
	auditor audit.Logger
	metrics *observability.Metrics
}

// NewGate creates a gate. The auditor must not be nil; pass audit.NopLogger
// to rely on structured logs alone. Metrics may be nil.
func NewGate(logger *observability.Logger, auditor audit.Logger, metrics *observability.Metrics) *Gate {
	return &Gate{
		logger:  logger,
		auditor: auditor,
		metrics: metrics,
	}
}

// Authorize runs the decision and, on denial, writes the audit record. The
// transport is "http" or "socket"; it affects only logging, never the
// decision.
func (g *Gate) Authorize(transport string, p *Principal, rule Rule) Decision {
	decision := Decide(p, rule)

	outcome := "allow"
	if !decision.Allowed {
		outcome = "deny"
		g.logDenial(transport, p, rule, decision.Reason)
	}
	if g.metrics != nil {
		g.metrics.GateDecisionsTotal.WithLabelValues(transport, outcome).Inc()
	}

	return decision
}

func (g *Gate) logDenial(transport string, p *Principal, rule Rule, reason string) {
	principalID := ""
	email := ""
	if p != nil {
		principalID = p.ID
		email = p.Email
	}

	g.logger.WithFields(map[string]interface{}{
		"transport":     transport,
		"resource":      rule.Resource,
		"reason":        reason,
		"principal_id":  principalID,
		"email":         email,
		"require_admin": rule.RequireAdmin,
	}).Warn("authorization denied")

	if err := g.auditor.Log(audit.Event{
		EventType:    audit.EventTypeAccessDenied,
		Transport:    transport,
		Resource:     rule.Resource,
		Reason:       reason,
		PrincipalID:  principalID,
		Email:        email,
		RequireAdmin: rule.RequireAdmin,
	}); err != nil {
		g.logger.WithError(err).Error("failed to write audit event")
	}
}
