package eventhandler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
)

var at = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

type spyCache struct {
	invalidated [][]mentorship.UserID
	err         error
}

func (c *spyCache) Get(context.Context, mentorship.UserID) (mentorship.ProfileSummary, bool, error) {
	return mentorship.ProfileSummary{}, false, nil
}

func (c *spyCache) Set(context.Context, mentorship.ProfileSummary) error { return nil }

func (c *spyCache) Invalidate(_ context.Context, uids ...mentorship.UserID) error {
	c.invalidated = append(c.invalidated, uids)
	return c.err
}

type spyBus struct {
	types []shared.EventType
}

func (b *spyBus) Subscribe(t shared.EventType, _ shared.EventHandler) error {
	b.types = append(b.types, t)
	return nil
}

func (b *spyBus) SubscribeAll(shared.EventHandler) error { return nil }

func changed(t shared.EventType, to string) shared.MentorshipChangedEvent {
	return shared.NewMentorshipChangedEvent(t, at, "e1", "s1", "m1", "pending", to)
}

func TestHandle_InvalidatesOnCounterChanges(t *testing.T) {
	cache := &spyCache{}
	h := NewOnMentorshipChangedHandler(cache, nil, MentorshipChangedConfig{})

	require.NoError(t, h.Handle(changed(shared.EventMentorshipAccepted, "active")))
	require.NoError(t, h.Handle(changed(shared.EventMentorshipEnded, "completed")))

	require.Len(t, cache.invalidated, 2)
	assert.Equal(t, []mentorship.UserID{"m1", "s1"}, cache.invalidated[0])
}

func TestHandle_PendingChangesKeepCache(t *testing.T) {
	cache := &spyCache{}
	h := NewOnMentorshipChangedHandler(cache, nil, MentorshipChangedConfig{})

	require.NoError(t, h.Handle(changed(shared.EventMentorshipRequested, "pending")))
	require.NoError(t, h.Handle(changed(shared.EventMentorshipRejected, "rejected")))

	assert.Empty(t, cache.invalidated)
}

func TestHandle_DriftAndProfiles(t *testing.T) {
	cache := &spyCache{}
	h := NewOnMentorshipChangedHandler(cache, nil, MentorshipChangedConfig{})

	require.NoError(t, h.Handle(shared.NewCapacityDriftEvent(at, "m1", 3, 1, false)))
	assert.Empty(t, cache.invalidated)

	require.NoError(t, h.Handle(shared.NewCapacityDriftEvent(at, "m1", 3, 1, true)))
	require.NoError(t, h.Handle(shared.NewProfileSavedEvent(at, "s9", "student")))

	assert.Equal(t, [][]mentorship.UserID{{"m1"}, {"s9"}}, cache.invalidated)
}

func TestHandle_CacheFailureIsReported(t *testing.T) {
	cache := &spyCache{err: errors.New("redis down")}
	h := NewOnMentorshipChangedHandler(cache, nil, MentorshipChangedConfig{})

	err := h.Handle(changed(shared.EventMentorshipAccepted, "active"))
	assert.ErrorContains(t, err, "redis down")
}

func TestHandle_WithoutCache(t *testing.T) {
	h := NewOnMentorshipChangedHandler(nil, nil, MentorshipChangedConfig{})
	assert.NoError(t, h.Handle(changed(shared.EventMentorshipAccepted, "active")))
}

func TestRegister(t *testing.T) {
	bus := &spyBus{}
	h := NewOnMentorshipChangedHandler(nil, nil, MentorshipChangedConfig{})

	require.NoError(t, h.Register(bus))
	assert.Contains(t, bus.types, shared.EventMentorshipAccepted)
	assert.Contains(t, bus.types, shared.EventProfileSaved)
	assert.NotContains(t, bus.types, shared.EventMentorshipAnnotated)
}
