package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
)

var testTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func acceptedEvent() shared.MentorshipChangedEvent {
	ev := shared.NewMentorshipChangedEvent(shared.EventMentorshipAccepted, testTime,
		"e1", "s1", "m1", "pending", "active")
	ev.CurrentMentees = 1
	ev.MaxMentees = 3
	return ev
}

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{EnableMetrics: true})
}

func TestInMemoryEventBus_DeliversByType(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventMentorshipAccepted, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(acceptedEvent()))
	require.NoError(t, bus.Publish(shared.NewProfileSavedEvent(testTime, "s1", "student")))

	assert.Equal(t, []shared.EventType{shared.EventMentorshipAccepted}, typed)
	assert.Equal(t, []shared.EventType{shared.EventMentorshipAccepted, shared.EventProfileSaved}, all)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalPublished)
	assert.Equal(t, int64(3), snap.TotalHandlerExecs)
}

func TestInMemoryEventBus_HandlerFailuresAreContained(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	calls := 0
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("bad handler") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { calls++; return nil }))

	assert.NoError(t, bus.Publish(acceptedEvent()))
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(2), bus.Metrics().Snapshot().HandlerFailures)
}

func TestInMemoryEventBus_Async(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())

	var mu sync.Mutex
	got := 0
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		mu.Lock()
		got++
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(acceptedEvent()))
	}
	require.NoError(t, bus.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, got, 5)
	assert.ErrorIs(t, bus.Publish(acceptedEvent()), ErrEventBusClosed)
}

func TestInMemoryEventBus_Validation(t *testing.T) {
	bus := syncBus()
	assert.ErrorIs(t, bus.Subscribe(shared.EventMentorshipEnded, nil), ErrNilHandler)
	assert.ErrorIs(t, bus.Publish(nil), ErrNilEvent)

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestEnvelope_RestoresConcreteTypes(t *testing.T) {
	events := []shared.Event{
		acceptedEvent(),
		shared.NewCapacityDriftEvent(testTime, "m1", 3, 2, true),
		shared.NewProfileSavedEvent(testTime, "s1", "student"),
	}
	for _, want := range events {
		data, err := encodeEnvelope("node-a", want)
		require.NoError(t, err)

		instance, got, err := decodeEnvelope([]byte(data))
		require.NoError(t, err)
		assert.Equal(t, "node-a", instance)
		assert.Equal(t, want, got)
	}

	_, _, err := decodeEnvelope([]byte(`{"instance_id":"x","event_type":"user.online","event":{}}`))
	assert.ErrorIs(t, err, ErrEventNotSupported)

	_, _, err = decodeEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

// fakeRedis loops published messages back to the subscriber, like a
// single Redis server shared by several instances.
type fakeRedis struct {
	mu        sync.Mutex
	published []string
	ch        chan RedisMessage
	failPub   error
	closed    bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{ch: make(chan RedisMessage, 16)}
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPub != nil {
		return f.failPub
	}
	payload := message.(string)
	f.published = append(f.published, payload)
	f.ch <- RedisMessage{Channel: channel, Payload: payload}
	return nil
}

func (f *fakeRedis) Subscribe(context.Context, ...string) (<-chan RedisMessage, error) {
	return f.ch, nil
}

func (f *fakeRedis) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestRedisEventBus_SkipsOwnEchoAndDeliversRemote(t *testing.T) {
	redis := newFakeRedis()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:     redis,
		InstanceID: "node-a",
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var got []shared.Event
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		return nil
	}))
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(got)
	}

	// local publish: delivered once, the echo from redis is dropped
	require.NoError(t, bus.Publish(acceptedEvent()))
	assert.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond)

	// event published by another instance
	remote, err := encodeEnvelope("node-b", shared.NewCapacityDriftEvent(testTime, "m1", 3, 2, true))
	require.NoError(t, err)
	redis.ch <- RedisMessage{Channel: DefaultChannel, Payload: remote}
	assert.Eventually(t, func() bool { return count() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Close())

	mu.Lock()
	defer mu.Unlock()
	drift, ok := got[1].(shared.CapacityDriftEvent)
	require.True(t, ok, "remote events keep their concrete type")
	assert.True(t, drift.Repaired)
	assert.True(t, redis.closed)
}

func TestRedisEventBus_PublishFailureStillDeliversLocally(t *testing.T) {
	redis := newFakeRedis()
	redis.failPub = errors.New("redis down")
	bus, err := NewRedisEventBus(RedisEventBusConfig{Client: redis})
	require.NoError(t, err)
	defer bus.Close()

	delivered := make(chan struct{}, 1)
	require.NoError(t, bus.Subscribe(shared.EventMentorshipAccepted, func(shared.Event) error {
		delivered <- struct{}{}
		return nil
	}))

	require.NoError(t, bus.Publish(acceptedEvent()))
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("event was not delivered locally")
	}
	assert.NotEmpty(t, bus.InstanceID())
}

func TestRedisEventBus_RequiresClient(t *testing.T) {
	_, err := NewRedisEventBus(RedisEventBusConfig{})
	assert.Error(t, err)
}
