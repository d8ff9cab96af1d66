package realtime

import (
	"context"
	"sync"

	"github.com/kindredhq/kindred/pkg/observability"
	"github.com/kindredhq/kindred/pkg/pubsub"
)

// Socket is the minimal connection surface the registry needs. *Conn
// satisfies it.
type Socket interface {
	ID() string
	Emit(event string, payload interface{}) error
}

// Registry tracks which authorized connections are subscribed to which
// channels and relays bridge messages to the members of each. One registry
// serves all connections of a node.
type Registry struct {
	bridge  *pubsub.Bridge
	logger  *observability.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	channels map[pubsub.Channel]map[string]Socket
}

// NewRegistry builds a registry over the given fan-out bridge.
func NewRegistry(bridge *pubsub.Bridge, logger *observability.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		bridge:   bridge,
		logger:   logger,
		metrics:  metrics,
		channels: make(map[pubsub.Channel]map[string]Socket),
	}
}

// Register adds the socket to a channel's membership. The first
// registration for a channel attaches the registry's relay to the bridge;
// later registrations reuse it. Registering the same socket twice is a
// no-op. A channel, once seen, keeps its bridge subscription for the life
// of the process even when its last member leaves.
func (r *Registry) Register(ctx context.Context, ch pubsub.Channel, s Socket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[ch]
	if !ok {
		if err := r.bridge.Subscribe(ctx, ch, func(c pubsub.Channel, payload interface{}) {
			r.relay(c, payload)
		}); err != nil {
			return err
		}
		members = make(map[string]Socket)
		r.channels[ch] = members
	}

	if _, exists := members[s.ID()]; exists {
		return nil
	}
	members[s.ID()] = s

	r.logger.WithFields(map[string]interface{}{
		"conn_id": s.ID(),
		"channel": string(ch),
	}).Debug("socket subscribed to channel")
	if r.metrics != nil {
		r.metrics.ChannelMembers.WithLabelValues(string(ch)).Set(float64(len(members)))
	}
	return nil
}

// Unregister removes the socket from every channel it is a member of.
// Idempotent; meant to run from the socket's disconnect callback so a
// closed connection can never be handed another message.
func (r *Registry) Unregister(s Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for ch, members := range r.channels {
		if _, ok := members[s.ID()]; !ok {
			continue
		}
		delete(members, s.ID())
		if r.metrics != nil {
			r.metrics.ChannelMembers.WithLabelValues(string(ch)).Set(float64(len(members)))
		}
	}
}

// Members returns the number of sockets currently subscribed to a channel.
func (r *Registry) Members(ch pubsub.Channel) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[ch])
}

// relay delivers one bridge message to every current member of the
// channel. Membership is snapshotted first so a handler-triggered
// unsubscribe cannot race the iteration. A failed delivery to one member
// never blocks delivery to the rest.
func (r *Registry) relay(ch pubsub.Channel, payload interface{}) {
	r.mu.RLock()
	members := make([]Socket, 0, len(r.channels[ch]))
	for _, s := range r.channels[ch] {
		members = append(members, s)
	}
	r.mu.RUnlock()

	for _, s := range members {
		if err := s.Emit(string(ch), payload); err != nil {
			r.logger.WithError(err).WithFields(map[string]interface{}{
				"conn_id": s.ID(),
				"channel": string(ch),
			}).Warn("failed to deliver channel message")
			if r.metrics != nil {
				r.metrics.DeliveryErrorsTotal.WithLabelValues(string(ch)).Inc()
			}
			continue
		}
		if r.metrics != nil {
			r.metrics.MessagesDelivered.WithLabelValues(string(ch)).Inc()
		}
	}
}
