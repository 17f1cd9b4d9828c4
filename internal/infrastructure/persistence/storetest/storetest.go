// Package storetest holds the behavior every mentorship.Store must share.
// Each backend runs the same suite from its own tests; uids are namespaced
// per test so a real database can be reused between runs.
package storetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
)

// T0 is the base timestamp of every fixture.
var T0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// Factory returns a store for one subtest. It may register cleanup on t.
type Factory func(t *testing.T) mentorship.Store

// Run executes the whole suite against stores made by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, f *Fixture)
	}{
		{"SaveUserPreservesCounters", testSaveUserPreservesCounters},
		{"SaveUserRejectsShrinkBelowCurrent", testSaveUserRejectsShrink},
		{"SaveUserRejectsDemotionWithActiveMentees", testSaveUserRejectsDemotion},
		{"GetUserNotFound", testGetUserNotFound},
		{"ListMentorsFilter", testListMentorsFilter},
		{"CreateEdgeRejectsSecondOpenEdge", testCreateEdgeRejectsSecondOpenEdge},
		{"TransitionRollsBackOnError", testTransitionRollsBack},
		{"TransitionUnknownPair", testTransitionUnknownPair},
		{"ConcurrentAcceptsNeverOverbook", testConcurrentAccepts},
		{"ListPendingOldestFirst", testListPendingOldestFirst},
		{"RepairMentor", testRepairMentor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, NewFixture(t, newStore(t)))
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURE
// ══════════════════════════════════════════════════════════════════════════════

// Fixture seeds namespaced users and edges into a store.
type Fixture struct {
	t     *testing.T
	Store mentorship.Store
	ns    string
}

// NewFixture creates a fixture with a fresh uid namespace.
func NewFixture(t *testing.T, s mentorship.Store) *Fixture {
	return &Fixture{t: t, Store: s, ns: strings.ReplaceAll(uuid.NewString(), "-", "")[:12]}
}

// UID returns the namespaced uid for name.
func (f *Fixture) UID(name string) mentorship.UserID {
	return mentorship.UserID(f.ns + "-" + name)
}

// Key returns the namespaced pair key.
func (f *Fixture) Key(student, mentor string) mentorship.PairKey {
	return mentorship.PairKey{Student: f.UID(student), Mentor: f.UID(mentor)}
}

// Mentor imports a mentor with the given capacity.
func (f *Fixture) Mentor(name string, slots int) *mentorship.UserNode {
	f.t.Helper()
	saved, err := f.SaveMentor(name, slots)
	require.NoError(f.t, err)
	return saved
}

// SaveMentor imports a mentor and returns the store's answer unchecked.
func (f *Fixture) SaveMentor(name string, slots int) (*mentorship.UserNode, error) {
	f.t.Helper()
	u, err := mentorship.NewUser(mentorship.NewUserParams{
		UID: f.UID(name).String(), Type: mentorship.UserTypeMentor, Name: name, IsActive: true,
		ExpertiseCategories: []string{"go"}, MaxMentees: &slots, Now: T0,
	})
	require.NoError(f.t, err)
	return f.Store.SaveUser(context.Background(), u)
}

// Student imports a student.
func (f *Fixture) Student(name string) {
	f.t.Helper()
	_, err := f.SaveStudent(name)
	require.NoError(f.t, err)
}

// SaveStudent imports a student and returns the store's answer unchecked.
func (f *Fixture) SaveStudent(name string) (*mentorship.UserNode, error) {
	f.t.Helper()
	u, err := mentorship.NewUser(mentorship.NewUserParams{
		UID: f.UID(name).String(), Type: mentorship.UserTypeStudent, Name: name, IsActive: true, Now: T0,
	})
	require.NoError(f.t, err)
	return f.Store.SaveUser(context.Background(), u)
}

// Request creates a pending edge started at at.
func (f *Fixture) Request(student, mentor string, at time.Time) error {
	f.t.Helper()
	e, err := mentorship.NewEdge(mentorship.NewEdgeParams{
		StudentUID: f.UID(student), MentorUID: f.UID(mentor), Now: at,
	})
	require.NoError(f.t, err)
	return f.Store.CreateEdge(context.Background(), e)
}

// Accept runs the accept transition for the pair.
func (f *Fixture) Accept(student, mentor string) error {
	_, _, err := f.Store.TransitionEdge(context.Background(), f.Key(student, mentor),
		func(e *mentorship.Edge, m *mentorship.UserNode) error { return e.Accept(m, T0) })
	return err
}

// Connect seeds both users, requests and accepts.
func (f *Fixture) Connect(student, mentor string) {
	f.t.Helper()
	f.Student(student)
	require.NoError(f.t, f.Request(student, mentor, T0))
	require.NoError(f.t, f.Accept(student, mentor))
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILES
// ══════════════════════════════════════════════════════════════════════════════

func testSaveUserPreservesCounters(t *testing.T, f *Fixture) {
	ctx := context.Background()
	f.Mentor("m1", 3)
	f.Connect("s1", "m1")

	// re-import with zeroed counters and a new capacity
	f.Mentor("m1", 5)

	got, err := f.Store.GetUser(ctx, f.UID("m1"))
	require.NoError(t, err)
	assert.Equal(t, 5, got.Mentor.MaxMentees)
	assert.Equal(t, 1, got.Mentor.CurrentMentees)
	assert.Equal(t, 1, got.Mentor.TotalMenteesEver)
}

func testSaveUserRejectsShrink(t *testing.T, f *Fixture) {
	ctx := context.Background()
	f.Mentor("m1", 2)
	f.Connect("s1", "m1")
	f.Connect("s2", "m1")

	_, err := f.SaveMentor("m1", 1)
	require.ErrorIs(t, err, shared.ErrInvalidUser)

	got, err := f.Store.GetUser(ctx, f.UID("m1"))
	require.NoError(t, err)
	assert.Equal(t, 2, got.Mentor.MaxMentees)
	assert.Equal(t, 2, got.Mentor.CurrentMentees)
}

func testSaveUserRejectsDemotion(t *testing.T, f *Fixture) {
	ctx := context.Background()
	f.Mentor("m1", 3)
	f.Connect("s1", "m1")

	_, err := f.SaveStudent("m1")
	require.ErrorIs(t, err, shared.ErrInvalidUser)
	assert.ErrorIs(t, err, mentorship.ErrMentorHasMentees)

	got, err := f.Store.GetUser(ctx, f.UID("m1"))
	require.NoError(t, err)
	assert.True(t, got.IsMentor())

	_, _, err = f.Store.TransitionEdge(ctx, f.Key("s1", "m1"), func(e *mentorship.Edge, m *mentorship.UserNode) error {
		return e.End(m, T0.Add(time.Hour), "done", true)
	})
	require.NoError(t, err)

	saved, err := f.SaveStudent("m1")
	require.NoError(t, err)
	assert.True(t, saved.IsStudent())
}

func testGetUserNotFound(t *testing.T, f *Fixture) {
	_, err := f.Store.GetUser(context.Background(), f.UID("ghost"))
	assert.ErrorIs(t, err, shared.ErrUserNotFound)
}

func testListMentorsFilter(t *testing.T, f *Fixture) {
	f.Mentor("full", 1)
	f.Connect("s1", "full")
	f.Mentor("open", 2)

	mentors, err := f.Store.ListMentors(context.Background(), mentorship.MentorFilter{OnlyEligible: true, Category: "go"})
	require.NoError(t, err)

	var mine []mentorship.UserID
	for _, m := range mentors {
		if strings.HasPrefix(m.UID.String(), f.ns) {
			mine = append(mine, m.UID)
		}
	}
	assert.Equal(t, []mentorship.UserID{f.UID("open")}, mine)
}

// ══════════════════════════════════════════════════════════════════════════════
// RELATIONSHIPS
// ══════════════════════════════════════════════════════════════════════════════

func testCreateEdgeRejectsSecondOpenEdge(t *testing.T, f *Fixture) {
	ctx := context.Background()
	f.Mentor("m1", 3)
	f.Student("s1")

	require.NoError(t, f.Request("s1", "m1", T0))
	err := f.Request("s1", "m1", T0.Add(time.Minute))
	assert.ErrorIs(t, err, shared.ErrOpenEdgeExists)

	// after rejection the pair may ask again
	_, _, err = f.Store.TransitionEdge(ctx, f.Key("s1", "m1"),
		func(e *mentorship.Edge, _ *mentorship.UserNode) error { return e.Reject(T0) })
	require.NoError(t, err)
	require.NoError(t, f.Request("s1", "m1", T0.Add(time.Hour)))

	e, err := f.Store.GetEdge(ctx, f.Key("s1", "m1"))
	require.NoError(t, err)
	assert.Equal(t, mentorship.StatusPending, e.Status)
	assert.True(t, e.StartDate.Equal(T0.Add(time.Hour)))
}

func testTransitionRollsBack(t *testing.T, f *Fixture) {
	ctx := context.Background()
	f.Mentor("m1", 3)
	f.Student("s1")
	require.NoError(t, f.Request("s1", "m1", T0))

	_, _, err := f.Store.TransitionEdge(ctx, f.Key("s1", "m1"), func(e *mentorship.Edge, m *mentorship.UserNode) error {
		_ = e.Accept(m, T0)
		return shared.ErrInvalidTransition.With(fmt.Errorf("abort after accept"))
	})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	e, err := f.Store.GetEdge(ctx, f.Key("s1", "m1"))
	require.NoError(t, err)
	assert.Equal(t, mentorship.StatusPending, e.Status)
	m, err := f.Store.GetUser(ctx, f.UID("m1"))
	require.NoError(t, err)
	assert.Equal(t, 0, m.Mentor.CurrentMentees)
}

func testTransitionUnknownPair(t *testing.T, f *Fixture) {
	f.Mentor("m1", 3)

	err := f.Accept("s9", "m1")
	assert.ErrorIs(t, err, shared.ErrEdgeNotFound)
}

func testConcurrentAccepts(t *testing.T, f *Fixture) {
	ctx := context.Background()
	const slots, n = 2, 8
	f.Mentor("m1", slots)
	for i := 0; i < n; i++ {
		f.Student(fmt.Sprintf("s%d", i))
		require.NoError(t, f.Request(fmt.Sprintf("s%d", i), "m1", T0))
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, full int
		other    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := f.Accept(fmt.Sprintf("s%d", i), "m1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case shared.IsCapacityExceeded(err):
				full++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, slots, ok)
	assert.Equal(t, n-slots, full)

	active, err := f.Store.CountActive(ctx, f.UID("m1"))
	require.NoError(t, err)
	assert.Equal(t, slots, active)
	m, err := f.Store.GetUser(ctx, f.UID("m1"))
	require.NoError(t, err)
	assert.Equal(t, slots, m.Mentor.CurrentMentees)
}

func testListPendingOldestFirst(t *testing.T, f *Fixture) {
	ctx := context.Background()
	f.Mentor("m1", 3)
	f.Mentor("m2", 3)
	f.Student("early")
	f.Student("late")
	require.NoError(t, f.Request("late", "m1", T0.Add(time.Hour)))
	require.NoError(t, f.Request("early", "m1", T0))
	require.NoError(t, f.Request("early", "m2", T0.Add(time.Minute)))

	edges, err := f.Store.ListPending(ctx, mentorship.PendingForMentor(f.UID("m1")))
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, f.UID("early"), edges[0].StudentUID)
	assert.Equal(t, f.UID("late"), edges[1].StudentUID)

	edges, err = f.Store.ListPending(ctx, mentorship.PendingForStudent(f.UID("early")))
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, f.UID("m1"), edges[0].MentorUID)
	assert.Equal(t, f.UID("m2"), edges[1].MentorUID)
}

func testRepairMentor(t *testing.T, f *Fixture) {
	ctx := context.Background()
	f.Mentor("m1", 3)
	f.Connect("s1", "m1")

	got, err := f.Store.RepairMentor(ctx, f.UID("m1"), func(m *mentorship.UserNode, active int) (bool, error) {
		assert.Equal(t, 1, active)
		m.Mentor.CurrentMentees = active
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Mentor.CurrentMentees)

	_, err = f.Store.RepairMentor(ctx, f.UID("nobody"), func(*mentorship.UserNode, int) (bool, error) { return false, nil })
	assert.True(t, shared.IsNotFound(err))
}
