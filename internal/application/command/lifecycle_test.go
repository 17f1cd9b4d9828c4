package command

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
	mock_shared "github.com/alem-hub/mentorship-hub/internal/domain/shared/mocks"
	"github.com/alem-hub/mentorship-hub/internal/infrastructure/persistence/memory"
)

// ══════════════════════════════════════════════════════════════════════════════
// TEST HARNESS
// ══════════════════════════════════════════════════════════════════════════════

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

type harness struct {
	store     *memory.Store
	events    *recordingPublisher
	lifecycle *Lifecycle
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithPublisher(t, &recordingPublisher{})
}

func newHarnessWithPublisher(t *testing.T, pub shared.EventPublisher) *harness {
	t.Helper()
	store := memory.NewStore()
	exec := NewExecutor(ExecutorDeps{Publisher: pub}, ExecutorConfig{
		OperationTimeout:  5 * time.Second,
		RetryInitialDelay: time.Millisecond,
	})
	h := &harness{store: store, lifecycle: NewLifecycle(store, exec, DefaultReconcileConfig())}
	if rec, ok := pub.(*recordingPublisher); ok {
		h.events = rec
	}
	return h
}

func (h *harness) mentor(t *testing.T, uid string, slots, current int) {
	t.Helper()
	_, err := h.lifecycle.SaveProfile.Handle(context.Background(), SaveProfileCommand{Profile: mentorship.NewUserParams{
		UID:                 uid,
		Type:                mentorship.UserTypeMentor,
		Name:                "Mentor " + uid,
		IsActive:            true,
		ExpertiseCategories: []string{"go"},
		MaxMentees:          &slots,
		CurrentMentees:      current,
	}})
	require.NoError(t, err)
}

func (h *harness) student(t *testing.T, uid string) {
	t.Helper()
	_, err := h.lifecycle.SaveProfile.Handle(context.Background(), SaveProfileCommand{Profile: mentorship.NewUserParams{
		UID: uid, Type: mentorship.UserTypeStudent, Name: "Student " + uid, IsActive: true,
	}})
	require.NoError(t, err)
}

func (h *harness) request(student, mentor string) error {
	_, err := h.lifecycle.Request.Handle(context.Background(), RequestMentorshipCommand{StudentUID: student, MentorUID: mentor})
	return err
}

func (h *harness) respond(student, mentor, decision string) error {
	_, err := h.lifecycle.Respond.Handle(context.Background(), RespondMentorshipCommand{StudentUID: student, MentorUID: mentor, Decision: decision})
	return err
}

func (h *harness) terminate(student, mentor string, graceful bool) error {
	_, err := h.lifecycle.Terminate.Handle(context.Background(), TerminateMentorshipCommand{StudentUID: student, MentorUID: mentor, Graceful: graceful})
	return err
}

func (h *harness) current(t *testing.T, mentor string) int {
	t.Helper()
	u, err := h.store.GetUser(context.Background(), mentorship.UserID(mentor))
	require.NoError(t, err)
	return u.Mentor.CurrentMentees
}

func (h *harness) edge(t *testing.T, student, mentor string) *mentorship.Edge {
	t.Helper()
	e, err := h.store.GetEdge(context.Background(), mentorship.PairKey{Student: mentorship.UserID(student), Mentor: mentorship.UserID(mentor)})
	require.NoError(t, err)
	return e
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST
// ══════════════════════════════════════════════════════════════════════════════

func TestRequest_CreatesPendingEdge(t *testing.T) {
	h := newHarness(t)
	h.student(t, "s1")
	h.mentor(t, "m1", 3, 0)

	res, err := h.lifecycle.Request.Handle(context.Background(), RequestMentorshipCommand{
		StudentUID: "s1", MentorUID: "m1", Goals: []string{"<b>learn</b> Go", "  "},
	})
	require.NoError(t, err)

	assert.Equal(t, mentorship.StatusPending, res.Edge.Status)
	assert.Equal(t, []string{"learn Go"}, res.Edge.Goals)
	assert.Empty(t, res.Edge.Notes)
	assert.Equal(t, 0, h.current(t, "m1"))
	assert.Contains(t, h.events.types(), shared.EventMentorshipRequested)
}

func TestRequest_UnknownOrWrongRoleIsNotFound(t *testing.T) {
	h := newHarness(t)
	h.student(t, "s1")
	h.student(t, "s2")
	h.mentor(t, "m1", 3, 0)

	tests := []struct {
		name    string
		student string
		mentor  string
		want    error
	}{
		{"missing student", "ghost", "m1", shared.ErrStudentNotFound},
		{"missing mentor", "s1", "ghost", shared.ErrMentorNotFound},
		{"mentor is a student", "s1", "s2", shared.ErrMentorNotFound},
		{"student is a mentor", "m1", "s1", shared.ErrStudentNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.request(tt.student, tt.mentor)
			require.Error(t, err)
			assert.True(t, shared.IsNotFound(err))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRequest_RejectsInvalidInput(t *testing.T) {
	h := newHarness(t)

	assert.True(t, shared.IsValidation(h.request("", "m1")))
	assert.True(t, shared.IsValidation(h.request("u1", "u1")))
}

// Scenario B: a second request before any response conflicts.
func TestRequest_SecondRequestConflicts(t *testing.T) {
	h := newHarness(t)
	h.student(t, "s1")
	h.mentor(t, "m1", 3, 0)

	require.NoError(t, h.request("s1", "m1"))
	err := h.request("s1", "m1")

	assert.True(t, shared.IsConflict(err))
	assert.Len(t, h.store.Edges(mentorship.PairKey{Student: "s1", Mentor: "m1"}), 1)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPOND
// ══════════════════════════════════════════════════════════════════════════════

// Scenario A: a full mentor cannot accept; the edge stays pending.
func TestRespond_AcceptAtCapacity(t *testing.T) {
	h := newHarness(t)
	h.student(t, "s1")
	h.mentor(t, "m1", 3, 3)
	require.NoError(t, h.request("s1", "m1"))

	err := h.respond("s1", "m1", "accept")

	assert.True(t, shared.IsCapacityExceeded(err))
	assert.Equal(t, mentorship.StatusPending, h.edge(t, "s1", "m1").Status)
	assert.Equal(t, 3, h.current(t, "m1"))
}

func TestRespond_AcceptIncrementsCounter(t *testing.T) {
	h := newHarness(t)
	h.student(t, "s1")
	h.mentor(t, "m1", 3, 0)
	require.NoError(t, h.request("s1", "m1"))

	res, err := h.lifecycle.Respond.Handle(context.Background(), RespondMentorshipCommand{StudentUID: "s1", MentorUID: "m1", Decision: "ACCEPT"})
	require.NoError(t, err)

	assert.Equal(t, mentorship.StatusActive, res.Edge.Status)
	assert.Equal(t, 1, res.Mentor.Mentor.CurrentMentees)
	assert.Equal(t, 1, h.current(t, "m1"))

	require.Len(t, res.Events, 1)
	ev := res.Events[0].(shared.MentorshipChangedEvent)
	assert.Equal(t, "pending", ev.FromStatus)
	assert.Equal(t, "active", ev.ToStatus)
	assert.Equal(t, 1, ev.CurrentMentees)
}

// Scenario C: after a rejection the student may ask again.
func TestRespond_RejectThenRequestAgain(t *testing.T) {
	h := newHarness(t)
	h.student(t, "s1")
	h.mentor(t, "m1", 3, 0)
	require.NoError(t, h.request("s1", "m1"))

	require.NoError(t, h.respond("s1", "m1", "reject"))
	assert.Equal(t, mentorship.StatusRejected, h.edge(t, "s1", "m1").Status)
	assert.Equal(t, 0, h.current(t, "m1"))

	require.NoError(t, h.request("s1", "m1"))
	assert.Equal(t, mentorship.StatusPending, h.edge(t, "s1", "m1").Status)
	assert.Len(t, h.store.Edges(mentorship.PairKey{Student: "s1", Mentor: "m1"}), 2)
}

func TestRespond_RepeatedResponseIsInvalidTransition(t *testing.T) {
	h := newHarness(t)
	h.student(t, "s1")
	h.mentor(t, "m1", 3, 0)
	require.NoError(t, h.request("s1", "m1"))
	require.NoError(t, h.respond("s1", "m1", "accept"))

	for i := 0; i < 2; i++ {
		err := h.respond("s1", "m1", "accept")
		assert.True(t, shared.IsInvalidTransition(err))
		assert.False(t, shared.IsCapacityExceeded(err))
		assert.Equal(t, 1, h.current(t, "m1"))
	}

	require.NoError(t, h.terminate("s1", "m1", true))
	for i := 0; i < 2; i++ {
		assert.True(t, shared.IsInvalidTransition(h.respond("s1", "m1", "reject")))
		assert.Equal(t, 0, h.current(t, "m1"))
	}
}

func TestRespond_NoEdgeIsNotFound(t *testing.T) {
	h := newHarness(t)
	h.mentor(t, "m1", 3, 0)

	err := h.respond("s1", "m1", "accept")
	assert.True(t, errors.Is(err, shared.ErrEdgeNotFound))
}

func TestRespond_UnknownDecision(t *testing.T) {
	h := newHarness(t)

	err := h.respond("s1", "m1", "maybe")
	assert.True(t, errors.Is(err, shared.ErrInvalidDecision))
	assert.True(t, shared.IsValidation(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// TERMINATE
// ══════════════════════════════════════════════════════════════════════════════

func TestTerminate_RoundTrip(t *testing.T) {
	h := newHarness(t)
	h.student(t, "s1")
	h.mentor(t, "m1", 3, 0)
	require.NoError(t, h.request("s1", "m1"))
	require.NoError(t, h.respond("s1", "m1", "accept"))
	require.Equal(t, 1, h.current(t, "m1"))

	res, err := h.lifecycle.Terminate.Handle(context.Background(), TerminateMentorshipCommand{
		StudentUID: "s1", MentorUID: "m1", Reason: "<i>schedule</i> clash",
	})
	require.NoError(t, err)

	assert.Equal(t, mentorship.StatusTerminated, res.Edge.Status)
	assert.Equal(t, "schedule clash", res.Edge.EndReason)
	assert.Equal(t, 0, h.current(t, "m1"))

	// no stale active edge blocks a new request
	require.NoError(t, h.request("s1", "m1"))
}

func TestTerminate_GracefulCompletes(t *testing.T) {
	h := newHarness(t)
	h.student(t, "s1")
	h.mentor(t, "m1", 3, 0)
	require.NoError(t, h.request("s1", "m1"))
	require.NoError(t, h.respond("s1", "m1", "accept"))

	require.NoError(t, h.terminate("s1", "m1", true))
	assert.Equal(t, mentorship.StatusCompleted, h.edge(t, "s1", "m1").Status)
}

func TestTerminate_RequiresActive(t *testing.T) {
	h := newHarness(t)
	h.student(t, "s1")
	h.mentor(t, "m1", 3, 1)

	assert.True(t, errors.Is(h.terminate("s1", "m1", false), shared.ErrEdgeNotFound))

	require.NoError(t, h.request("s1", "m1"))
	assert.True(t, shared.IsInvalidTransition(h.terminate("s1", "m1", false)))
	assert.Equal(t, 1, h.current(t, "m1"))
}

// ══════════════════════════════════════════════════════════════════════════════
// ANNOTATE
// ══════════════════════════════════════════════════════════════════════════════

func TestAnnotate_AppendsToOpenEdge(t *testing.T) {
	h := newHarness(t)
	h.student(t, "s1")
	h.mentor(t, "m1", 3, 0)
	require.NoError(t, h.request("s1", "m1"))

	res, err := h.lifecycle.Annotate.Handle(context.Background(), AnnotateMentorshipCommand{
		StudentUID: "s1", MentorUID: "m1", Goals: []string{"ship a CLI"}, Note: "<script>x</script>kickoff",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ship a CLI"}, res.Edge.Goals)
	assert.Equal(t, []string{"kickoff"}, res.Edge.Notes)
	assert.Equal(t, mentorship.StatusPending, res.Edge.Status)

	_, err = h.lifecycle.Annotate.Handle(context.Background(), AnnotateMentorshipCommand{StudentUID: "s1", MentorUID: "m1"})
	assert.True(t, shared.IsValidation(err))

	require.NoError(t, h.respond("s1", "m1", "reject"))
	_, err = h.lifecycle.Annotate.Handle(context.Background(), AnnotateMentorshipCommand{StudentUID: "s1", MentorUID: "m1", Note: "late"})
	assert.True(t, shared.IsInvalidTransition(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// CONCURRENCY
// ══════════════════════════════════════════════════════════════════════════════

func TestRespond_ConcurrentAcceptsFillExactlyFreeSlots(t *testing.T) {
	const n, slots = 10, 3
	h := newHarness(t)
	h.mentor(t, "m1", slots, 0)
	for i := 0; i < n; i++ {
		uid := fmt.Sprintf("s%02d", i)
		h.student(t, uid)
		require.NoError(t, h.request(uid, "m1"))
	}

	order := rand.Perm(n)
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, full := 0, 0
	start := make(chan struct{})
	for _, i := range order {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			<-start
			err := h.respond(uid, "m1", "accept")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case shared.IsCapacityExceeded(err):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(fmt.Sprintf("s%02d", i))
	}
	close(start)
	wg.Wait()

	assert.Equal(t, slots, accepted)
	assert.Equal(t, n-slots, full)
	assert.Equal(t, slots, h.current(t, "m1"))
}

func TestLifecycle_InvariantsHoldUnderRandomLoad(t *testing.T) {
	h := newHarness(t)
	mentors := []string{"m1", "m2", "m3"}
	students := []string{"s1", "s2", "s3", "s4", "s5", "s6"}
	for _, m := range mentors {
		h.mentor(t, m, 2, 0)
	}
	for _, s := range students {
		h.student(t, s)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < 60; i++ {
				s := students[rnd.Intn(len(students))]
				m := mentors[rnd.Intn(len(mentors))]
				var err error
				switch rnd.Intn(4) {
				case 0:
					err = h.request(s, m)
				case 1:
					err = h.respond(s, m, "accept")
				case 2:
					err = h.respond(s, m, "reject")
				case 3:
					err = h.terminate(s, m, rnd.Intn(2) == 0)
				}
				if err != nil && (shared.IsRetryable(err) || shared.IsOutcomeUnknown(err)) {
					t.Errorf("unexpected infrastructure error: %v", err)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	ctx := context.Background()
	for _, m := range mentors {
		u, err := h.store.GetUser(ctx, mentorship.UserID(m))
		require.NoError(t, err)
		active, err := h.store.CountActive(ctx, mentorship.UserID(m))
		require.NoError(t, err)

		assert.GreaterOrEqual(t, u.Mentor.CurrentMentees, 0)
		assert.LessOrEqual(t, u.Mentor.CurrentMentees, u.Mentor.MaxMentees)
		assert.Equal(t, active, u.Mentor.CurrentMentees, "mentor %s", m)

		for _, s := range students {
			open := 0
			for _, e := range h.store.Edges(mentorship.PairKey{Student: mentorship.UserID(s), Mentor: mentorship.UserID(m)}) {
				if e.Status.IsOpen() {
					open++
				}
			}
			assert.LessOrEqual(t, open, 1, "pair %s->%s", s, m)
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DETACHED EXECUTION & RETRY
// ══════════════════════════════════════════════════════════════════════════════

func TestRespond_CompletesAfterCallerGivesUp(t *testing.T) {
	h := newHarness(t)
	h.student(t, "s1")
	h.mentor(t, "m1", 3, 0)
	require.NoError(t, h.request("s1", "m1"))

	h.store.SetHook(func(_ context.Context, op string) error {
		if op == "TransitionEdge" {
			time.Sleep(50 * time.Millisecond)
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := h.lifecycle.Respond.Handle(ctx, RespondMentorshipCommand{StudentUID: "s1", MentorUID: "m1", Decision: "accept"})

	assert.True(t, shared.IsOutcomeUnknown(err))
	assert.Eventually(t, func() bool {
		e, err := h.store.GetEdge(context.Background(), mentorship.PairKey{Student: "s1", Mentor: "m1"})
		return err == nil && e.Status == mentorship.StatusActive
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		for _, et := range h.events.types() {
			if et == shared.EventMentorshipAccepted {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.current(t, "m1"))
}

func TestRequest_CancelledBeforeStartDoesNothing(t *testing.T) {
	h := newHarness(t)
	h.student(t, "s1")
	h.mentor(t, "m1", 3, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.lifecycle.Request.Handle(ctx, RequestMentorshipCommand{StudentUID: "s1", MentorUID: "m1"})

	assert.True(t, shared.IsOutcomeUnknown(err))
	assert.Empty(t, h.store.Edges(mentorship.PairKey{Student: "s1", Mentor: "m1"}))
}

func TestRequest_RetriesUnavailableStore(t *testing.T) {
	h := newHarness(t)
	h.student(t, "s1")
	h.mentor(t, "m1", 3, 0)

	var mu sync.Mutex
	failures := 2
	h.store.SetHook(func(_ context.Context, op string) error {
		mu.Lock()
		defer mu.Unlock()
		if op == "CreateEdge" && failures > 0 {
			failures--
			return shared.ErrStoreUnavailable
		}
		return nil
	})

	require.NoError(t, h.request("s1", "m1"))
	assert.Equal(t, mentorship.StatusPending, h.edge(t, "s1", "m1").Status)
}

func TestRespond_TimeoutIsOutcomeUnknown(t *testing.T) {
	store := memory.NewStore()
	exec := NewExecutor(ExecutorDeps{}, ExecutorConfig{
		OperationTimeout:  20 * time.Millisecond,
		RetryInitialDelay: time.Millisecond,
	})
	h := &harness{store: store, lifecycle: NewLifecycle(store, exec, DefaultReconcileConfig())}
	h.student(t, "s1")
	h.mentor(t, "m1", 3, 0)
	require.NoError(t, h.request("s1", "m1"))

	store.SetHook(func(ctx context.Context, op string) error {
		if op == "TransitionEdge" {
			<-ctx.Done()
			return shared.ErrStoreUnavailable.With(ctx.Err())
		}
		return nil
	})

	err := h.respond("s1", "m1", "accept")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrOperationTimedOut)
	assert.True(t, shared.IsOutcomeUnknown(err))
	assert.False(t, shared.IsRetryable(err), "a timed-out write must be re-read, not retried")

	store.SetHook(nil)
	assert.Equal(t, mentorship.StatusPending, h.edge(t, "s1", "m1").Status)
	assert.Equal(t, 0, h.current(t, "m1"))
}

func TestRequest_SurfacesPersistentOutage(t *testing.T) {
	h := newHarness(t)
	h.student(t, "s1")
	h.mentor(t, "m1", 3, 0)
	h.store.SetHook(func(context.Context, string) error { return shared.ErrStoreUnavailable })

	err := h.request("s1", "m1")

	assert.True(t, shared.IsRetryable(err))
	h.store.SetHook(nil)
	assert.Empty(t, h.store.Edges(mentorship.PairKey{Student: "s1", Mentor: "m1"}))
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENTS
// ══════════════════════════════════════════════════════════════════════════════

func TestRespond_PublishesAcceptedEvent(t *testing.T) {
	ctrl := gomock.NewController(t)
	pub := mock_shared.NewMockEventPublisher(ctrl)
	h := newHarnessWithPublisher(t, pub)

	pub.EXPECT().Publish(gomock.Any()).Return(nil).Times(2) // profile imports
	h.student(t, "s1")
	h.mentor(t, "m1", 3, 0)

	pub.EXPECT().Publish(gomock.Any()).Return(nil) // requested
	require.NoError(t, h.request("s1", "m1"))

	pub.EXPECT().Publish(gomock.Any()).DoAndReturn(func(e shared.Event) error {
		assert.Equal(t, shared.EventMentorshipAccepted, e.EventType())
		assert.Equal(t, "m1", e.AggregateID())
		return errors.New("bus down")
	})
	// a failing publisher never fails the write
	require.NoError(t, h.respond("s1", "m1", "accept"))
}
