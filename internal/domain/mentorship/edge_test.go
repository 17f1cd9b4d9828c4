package mentorship

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestMentor(t *testing.T, uid string, slots, current int) *UserNode {
	t.Helper()
	u, err := NewUser(NewUserParams{
		UID:                 uid,
		Type:                UserTypeMentor,
		Name:                "Mentor " + uid,
		IsActive:            true,
		ExpertiseCategories: []string{"go"},
		MaxMentees:          &slots,
		CurrentMentees:      current,
		Now:                 testNow,
	})
	require.NoError(t, err)
	return u
}

func newTestEdge(t *testing.T, student, mentor string) *Edge {
	t.Helper()
	e, err := NewEdge(NewEdgeParams{StudentUID: UserID(student), MentorUID: UserID(mentor), Now: testNow})
	require.NoError(t, err)
	return e
}

func TestNewEdge_StartsPending(t *testing.T) {
	e := newTestEdge(t, "s1", "m1")

	assert.Equal(t, StatusPending, e.Status)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, testNow, e.StartDate)
	assert.Empty(t, e.Goals)
	assert.Empty(t, e.Notes)
	assert.Nil(t, e.LastDecisionAt)
}

func TestNewEdge_RejectsSelfMentorship(t *testing.T) {
	_, err := NewEdge(NewEdgeParams{StudentUID: "u1", MentorUID: "u1"})
	assert.True(t, errors.Is(err, shared.ErrSelfMentorship))
	assert.True(t, shared.IsValidation(err))
}

func TestEdge_AcceptIncrementsCounter(t *testing.T) {
	e := newTestEdge(t, "s1", "m1")
	m := newTestMentor(t, "m1", 2, 1)

	require.NoError(t, e.Accept(m, testNow.Add(time.Hour)))

	assert.Equal(t, StatusActive, e.Status)
	require.NotNil(t, e.LastDecisionAt)
	assert.Equal(t, 2, m.Mentor.CurrentMentees)
	assert.Equal(t, 1, m.Mentor.TotalMenteesEver)
}

func TestEdge_AcceptAtCapacityLeavesPending(t *testing.T) {
	e := newTestEdge(t, "s1", "m1")
	m := newTestMentor(t, "m1", 3, 3)

	err := e.Accept(m, testNow)

	assert.True(t, shared.IsCapacityExceeded(err))
	assert.Equal(t, StatusPending, e.Status)
	assert.Equal(t, 3, m.Mentor.CurrentMentees)
}

func TestEdge_AcceptNonPendingIsInvalidTransition(t *testing.T) {
	e := newTestEdge(t, "s1", "m1")
	m := newTestMentor(t, "m1", 1, 1)
	e.Status = StatusActive

	err := e.Accept(m, testNow)

	// state is checked before capacity
	assert.True(t, shared.IsInvalidTransition(err))
	assert.False(t, shared.IsCapacityExceeded(err))
}

func TestEdge_RejectKeepsCounter(t *testing.T) {
	e := newTestEdge(t, "s1", "m1")

	require.NoError(t, e.Reject(testNow))
	assert.Equal(t, StatusRejected, e.Status)
	assert.True(t, e.Status.IsTerminal())

	err := e.Reject(testNow)
	assert.True(t, errors.Is(err, shared.ErrInvalidTransition))
}

func TestEdge_End(t *testing.T) {
	tests := []struct {
		name     string
		graceful bool
		current  int
		want     EdgeStatus
		wantCurr int
	}{
		{"graceful completes", true, 2, StatusCompleted, 1},
		{"forced terminates", false, 2, StatusTerminated, 1},
		{"counter floor at zero", false, 0, StatusTerminated, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEdge(t, "s1", "m1")
			e.Status = StatusActive
			m := newTestMentor(t, "m1", 3, tt.current)

			require.NoError(t, e.End(m, testNow, " moved on ", tt.graceful))

			assert.Equal(t, tt.want, e.Status)
			assert.Equal(t, tt.wantCurr, m.Mentor.CurrentMentees)
			assert.Equal(t, "moved on", e.EndReason)
			assert.NotNil(t, e.EndedAt)
		})
	}
}

func TestEdge_EndRequiresActive(t *testing.T) {
	e := newTestEdge(t, "s1", "m1")
	m := newTestMentor(t, "m1", 3, 1)

	err := e.End(m, testNow, "", true)

	assert.True(t, shared.IsInvalidTransition(err))
	assert.Equal(t, 1, m.Mentor.CurrentMentees)
}

func TestEdge_AnnotateOnlyOpen(t *testing.T) {
	e := newTestEdge(t, "s1", "m1")

	require.NoError(t, e.Annotate([]string{"ship a service", " "}, "first call", testNow))
	assert.Equal(t, []string{"ship a service"}, e.Goals)
	assert.Equal(t, []string{"first call"}, e.Notes)

	require.NoError(t, e.Reject(testNow))
	assert.True(t, shared.IsInvalidTransition(e.Annotate(nil, "late", testNow)))
}

func TestEdgeStatus_Transitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusActive))
	assert.True(t, StatusPending.CanTransitionTo(StatusRejected))
	assert.False(t, StatusPending.CanTransitionTo(StatusCompleted))
	assert.True(t, StatusActive.CanTransitionTo(StatusTerminated))
	assert.False(t, StatusActive.CanTransitionTo(StatusRejected))
	assert.False(t, StatusRejected.CanTransitionTo(StatusPending))
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision(" Accept ")
	require.NoError(t, err)
	assert.Equal(t, DecisionAccept, d)

	_, err = ParseDecision("maybe")
	assert.True(t, shared.IsValidation(err))
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("ACTIVE")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, st)

	_, err = ParseStatus("archived")
	assert.Error(t, err)
}

func TestLatestForPair_PrefersOpenEdge(t *testing.T) {
	old := newTestEdge(t, "s1", "m1")
	old.Status = StatusRejected
	newer := newTestEdge(t, "s1", "m1")
	newer.Status = StatusTerminated
	newer.StartDate = testNow.Add(time.Hour)
	open := newTestEdge(t, "s1", "m1")
	open.StartDate = testNow.Add(-time.Hour)

	assert.Same(t, newer, LatestForPair([]*Edge{old, newer}))
	assert.Same(t, open, LatestForPair([]*Edge{old, newer, open}))
	assert.Nil(t, LatestForPair(nil))
}

func TestEdge_CloneIsDeep(t *testing.T) {
	e := newTestEdge(t, "s1", "m1")
	e.Goals = []string{"a"}
	c := e.Clone()
	c.Goals[0] = "b"

	assert.Equal(t, "a", e.Goals[0])
}
