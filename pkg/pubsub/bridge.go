package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/kindredhq/kindred/pkg/observability"
)

// Handler receives every message published to a subscribed channel.
type Handler func(channel Channel, message interface{})

// Bridge publishes and subscribes logical channels. The operating mode is
// fixed at construction: single-node dispatches synchronously in-process,
// multi-node forwards every publish through Redis and re-emits locally on
// receipt, so a local subscriber cannot tell a local publish from a relayed
// one.
//
// Subscribe adds a listener per call with no dedup; owning a channel
// subscription exactly once per process is the registry's job, not the
// bridge's.
type Bridge struct {
	multiNode bool
	client    *redis.Client
	sub       *redis.PubSub
	logger    *observability.Logger

	mu        sync.RWMutex
	listeners map[Channel][]Handler
}

// NewSingleNode creates an in-process bridge.
func NewSingleNode(logger *observability.Logger) *Bridge {
	return &Bridge{
		multiNode: false,
		logger:    logger,
		listeners: make(map[Channel][]Handler),
	}
}

// NewMultiNode creates a Redis-backed bridge. Start must be called to begin
// relaying incoming messages.
func NewMultiNode(client *redis.Client, logger *observability.Logger) *Bridge {
	return &Bridge{
		multiNode: true,
		client:    client,
		logger:    logger,
		listeners: make(map[Channel][]Handler),
	}
}

// MultiNode reports the operating mode.
func (b *Bridge) MultiNode() bool { return b.multiNode }

// Start begins the Redis receive loop in multi-node mode. It is a no-op in
// single-node mode. The loop runs until the context is cancelled or Close
// is called.
func (b *Bridge) Start(ctx context.Context) {
	if !b.multiNode {
		return
	}

	b.mu.Lock()
	if b.sub == nil {
		// Subscribe lazily attaches channels; open the connection now so
		// receive starts before the first Subscribe call.
		b.sub = b.client.Subscribe(ctx)
	}
	sub := b.sub
	b.mu.Unlock()

	go b.receiveLoop(ctx, sub)
}

func (b *Bridge) receiveLoop(ctx context.Context, sub *redis.PubSub) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.relay(Channel(msg.Channel), msg.Payload)
		}
	}
}

// relay deserializes a Redis payload and dispatches it locally.
func (b *Bridge) relay(channel Channel, payload string) {
	var message interface{}
	if err := json.Unmarshal([]byte(payload), &message); err != nil {
		b.logger.WithError(err).WithField("channel", channel.String()).
			Warn("dropping undecodable pubsub payload")
		return
	}
	b.dispatch(channel, message)
}

// Subscribe registers a handler for a channel. In multi-node mode the
// backend subscription is attached on first use of the channel. The listener
// is recorded only once the backend attach succeeds, so a failed call leaves
// no state behind and a retry attaches the backend again.
func (b *Bridge) Subscribe(ctx context.Context, channel Channel, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.multiNode && len(b.listeners[channel]) == 0 {
		if b.sub == nil {
			return fmt.Errorf("pubsub: bridge not started")
		}
		if err := b.sub.Subscribe(ctx, channel.String()); err != nil {
			return fmt.Errorf("pubsub: backend subscribe failed for %s: %w", channel, err)
		}
	}
	b.listeners[channel] = append(b.listeners[channel], handler)

	return nil
}

// Publish sends a message to a channel. Fire-and-forget: there is no
// delivery guarantee beyond best effort, and cross-node ordering is only
// guaranteed for messages published from the same node.
func (b *Bridge) Publish(ctx context.Context, channel Channel, message interface{}) error {
	if b.multiNode {
		data, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("pubsub: failed to serialize message for %s: %w", channel, err)
		}
		if err := b.client.Publish(ctx, channel.String(), data).Err(); err != nil {
			return fmt.Errorf("pubsub: backend publish failed for %s: %w", channel, err)
		}
		return nil
	}

	b.dispatch(channel, message)
	return nil
}

// dispatch invokes the current listener set for a channel. Listeners are
// snapshotted so subscriptions added during dispatch take effect on the
// next message. A panicking listener does not prevent delivery to the rest.
func (b *Bridge) dispatch(channel Channel, message interface{}) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.listeners[channel]))
	copy(handlers, b.listeners[channel])
	b.mu.RUnlock()

	for _, h := range handlers {
		b.safeCall(h, channel, message)
	}
}

func (b *Bridge) safeCall(h Handler, channel Channel, message interface{}) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(map[string]interface{}{
				"channel": channel.String(),
				"panic":   fmt.Sprint(r),
				"stack":   string(debug.Stack()),
			}).Error("pubsub listener panicked")
		}
	}()
	h(channel, message)
}

// Close tears down the backend subscription connection.
func (b *Bridge) Close() error {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}
