package authz

// SocketError is the acknowledgment payload sent to a realtime client on a
// denied action.
type SocketError struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// GuardSocket runs the gate for a realtime event. On allow it invokes next;
// on deny it acknowledges the caller with an error object and stops. It
// never closes the connection — only the handshake may terminate the
// transport.
func (g *Gate) GuardSocket(p *Principal, rule Rule, ack func(interface{}), next func()) {
	decision := g.Authorize("socket", p, rule)
	if !decision.Allowed {
		if ack != nil {
			ack(SocketError{Error: "Not Allowed", Reason: decision.Reason})
		}
		return
	}
	next()
}
