package pubsub

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindredhq/kindred/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestChannel_Valid(t *testing.T) {
	assert.True(t, ChannelDummy.Valid())
	assert.True(t, ChannelUserVerified.Valid())
	assert.False(t, Channel("made-up").Valid())
}

func TestSingleNode_PublishDeliversSynchronously(t *testing.T) {
	b := NewSingleNode(testLogger())

	var got []interface{}
	err := b.Subscribe(context.Background(), ChannelDummy, func(ch Channel, msg interface{}) {
		got = append(got, msg)
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), ChannelDummy, map[string]interface{}{"a": 1}))

	// single-node delivery is synchronous, no waiting needed
	require.Len(t, got, 1)
	assert.Equal(t, map[string]interface{}{"a": 1}, got[0])
}

func TestSingleNode_PublishOrderPreserved(t *testing.T) {
	b := NewSingleNode(testLogger())

	var got []interface{}
	require.NoError(t, b.Subscribe(context.Background(), ChannelDummy, func(ch Channel, msg interface{}) {
		got = append(got, msg)
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(context.Background(), ChannelDummy, i))
	}

	assert.Equal(t, []interface{}{0, 1, 2, 3, 4}, got)
}

func TestSingleNode_RepeatedSubscribeAddsListeners(t *testing.T) {
	// The bridge deliberately does not dedup handlers; that is the
	// registry's contract to uphold.
	b := NewSingleNode(testLogger())

	calls := 0
	handler := func(ch Channel, msg interface{}) { calls++ }
	require.NoError(t, b.Subscribe(context.Background(), ChannelDummy, handler))
	require.NoError(t, b.Subscribe(context.Background(), ChannelDummy, handler))

	require.NoError(t, b.Publish(context.Background(), ChannelDummy, "x"))
	assert.Equal(t, 2, calls)
}

func TestSingleNode_ChannelIsolation(t *testing.T) {
	b := NewSingleNode(testLogger())

	dummyCalls := 0
	require.NoError(t, b.Subscribe(context.Background(), ChannelDummy, func(ch Channel, msg interface{}) {
		dummyCalls++
	}))

	require.NoError(t, b.Publish(context.Background(), ChannelUserVerified, "other"))
	assert.Zero(t, dummyCalls)
}

func TestSingleNode_PanickingListenerIsIsolated(t *testing.T) {
	b := NewSingleNode(testLogger())

	secondCalled := false
	require.NoError(t, b.Subscribe(context.Background(), ChannelDummy, func(ch Channel, msg interface{}) {
		panic("boom")
	}))
	require.NoError(t, b.Subscribe(context.Background(), ChannelDummy, func(ch Channel, msg interface{}) {
		secondCalled = true
	}))

	require.NoError(t, b.Publish(context.Background(), ChannelDummy, "x"))
	assert.True(t, secondCalled, "delivery must continue past a failing listener")
}

func setupMultiNode(t *testing.T) (*Bridge, *Bridge, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	newClient := func() *redis.Client {
		return redis.NewClient(&redis.Options{Addr: mr.Addr()})
	}

	ctx, cancel := context.WithCancel(context.Background())

	nodeA := NewMultiNode(newClient(), testLogger())
	nodeB := NewMultiNode(newClient(), testLogger())
	nodeA.Start(ctx)
	nodeB.Start(ctx)

	cleanup := func() {
		cancel()
		nodeA.Close()
		nodeB.Close()
		mr.Close()
	}

	return nodeA, nodeB, cleanup
}

func TestMultiNode_CrossNodeRoundTrip(t *testing.T) {
	nodeA, nodeB, cleanup := setupMultiNode(t)
	defer cleanup()

	received := make(chan interface{}, 1)
	require.NoError(t, nodeB.Subscribe(context.Background(), ChannelDummy, func(ch Channel, msg interface{}) {
		received <- msg
	}))

	// give the backend subscription a moment to land
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, nodeA.Publish(context.Background(), ChannelDummy, map[string]interface{}{"a": float64(1)}))

	select {
	case msg := <-received:
		assert.Equal(t, map[string]interface{}{"a": float64(1)}, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("message never relayed across nodes")
	}
}

func TestMultiNode_PublisherReceivesOwnMessages(t *testing.T) {
	nodeA, _, cleanup := setupMultiNode(t)
	defer cleanup()

	received := make(chan interface{}, 1)
	require.NoError(t, nodeA.Subscribe(context.Background(), ChannelDummy, func(ch Channel, msg interface{}) {
		received <- msg
	}))

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, nodeA.Publish(context.Background(), ChannelDummy, "hello"))

	select {
	case msg := <-received:
		// locally-published messages arrive through the same relay path
		assert.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("publisher never received its own message")
	}
}

func TestMultiNode_SerializationFailureIsLocal(t *testing.T) {
	nodeA, nodeB, cleanup := setupMultiNode(t)
	defer cleanup()

	received := make(chan interface{}, 1)
	require.NoError(t, nodeB.Subscribe(context.Background(), ChannelDummy, func(ch Channel, msg interface{}) {
		received <- msg
	}))

	time.Sleep(50 * time.Millisecond)

	// channels cannot be marshaled to JSON
	err := nodeA.Publish(context.Background(), ChannelDummy, make(chan int))
	require.Error(t, err)

	// the failed publish must not poison subsequent publishes
	require.NoError(t, nodeA.Publish(context.Background(), ChannelDummy, "after"))

	select {
	case msg := <-received:
		assert.Equal(t, "after", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge stopped delivering after a serialization failure")
	}
}

func TestMultiNode_SubscribeBeforeStartFails(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	b := NewMultiNode(redis.NewClient(&redis.Options{Addr: mr.Addr()}), testLogger())
	err = b.Subscribe(context.Background(), ChannelDummy, func(Channel, interface{}) {})
	require.Error(t, err)
}

func TestMultiNode_SubscribeRetryAfterFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	newClient := func() *redis.Client {
		return redis.NewClient(&redis.Options{Addr: mr.Addr()})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodeA := NewMultiNode(newClient(), testLogger())
	defer nodeA.Close()

	// A failed subscribe must leave nothing behind: no listener, and no
	// claim on the backend channel that would make a retry skip the attach.
	received := make(chan interface{}, 1)
	handler := func(ch Channel, msg interface{}) { received <- msg }
	require.Error(t, nodeA.Subscribe(ctx, ChannelDummy, handler))

	nodeA.Start(ctx)
	require.NoError(t, nodeA.Subscribe(ctx, ChannelDummy, handler))

	nodeB := NewMultiNode(newClient(), testLogger())
	nodeB.Start(ctx)
	defer nodeB.Close()

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, nodeB.Publish(ctx, ChannelDummy, "after-retry"))

	select {
	case msg := <-received:
		assert.Equal(t, "after-retry", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("retried subscription never attached to the backend")
	}

	// exactly one listener survives the failed attempt
	require.NoError(t, nodeB.Publish(ctx, ChannelDummy, "second"))
	select {
	case msg := <-received:
		assert.Equal(t, "second", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("second publish never delivered")
	}
	select {
	case msg := <-received:
		t.Fatalf("duplicate delivery %v: failed subscribe left a listener behind", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
