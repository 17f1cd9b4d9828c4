package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
)

func TestReconcile_ReportsDriftWithoutRepair(t *testing.T) {
	h := newHarness(t)
	h.mentor(t, "m1", 4, 2) // imported with a counter but no edges
	h.mentor(t, "m2", 2, 0)
	h.student(t, "s1")
	require.NoError(t, h.request("s1", "m2"))
	require.NoError(t, h.respond("s1", "m2", "accept"))

	res, err := h.lifecycle.Reconcile.Handle(context.Background(), ReconcileCapacityCommand{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.MentorsChecked)
	require.Len(t, res.Discrepancies, 1)
	assert.Equal(t, Discrepancy{MentorUID: "m1", Recorded: 2, ActiveEdges: 0}, res.Discrepancies[0])
	assert.Equal(t, 2, h.current(t, "m1"))
	// utilizations are 2/4 and 1/2
	assert.InDelta(t, 0.5, res.Utilization.Mean, 1e-9)
	assert.InDelta(t, 0.5, res.Utilization.Median, 1e-9)
	assert.Contains(t, h.events.types(), shared.EventCapacityDrift)
}

func TestReconcile_RepairsDrift(t *testing.T) {
	h := newHarness(t)
	h.mentor(t, "m1", 4, 3)

	res, err := h.lifecycle.Reconcile.Handle(context.Background(), ReconcileCapacityCommand{Repair: true})
	require.NoError(t, err)

	require.Len(t, res.Discrepancies, 1)
	assert.True(t, res.Discrepancies[0].Repaired)
	assert.Equal(t, 0, h.current(t, "m1"))

	res, err = h.lifecycle.Reconcile.Handle(context.Background(), ReconcileCapacityCommand{Repair: true})
	require.NoError(t, err)
	assert.Empty(t, res.Discrepancies)
	assert.Equal(t, 0.0, res.Utilization.Mean)
}

func TestReconcile_NoMentors(t *testing.T) {
	h := newHarness(t)

	res, err := h.lifecycle.Reconcile.Handle(context.Background(), ReconcileCapacityCommand{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.MentorsChecked)
	assert.NotNil(t, res.Discrepancies)
	assert.Equal(t, UtilizationStats{}, res.Utilization)
}

func TestClampCount(t *testing.T) {
	assert.Equal(t, 0, clampCount(-2, 3))
	assert.Equal(t, 3, clampCount(5, 3))
	assert.Equal(t, 2, clampCount(2, 3))
}

func TestSaveProfile_KeepsCountersOnReimport(t *testing.T) {
	h := newHarness(t)
	h.student(t, "s1")
	h.mentor(t, "m1", 3, 0)
	require.NoError(t, h.request("s1", "m1"))
	require.NoError(t, h.respond("s1", "m1", "accept"))

	saved, err := h.lifecycle.SaveProfile.Handle(context.Background(), SaveProfileCommand{Profile: mentorship.NewUserParams{
		UID: "m1", Type: mentorship.UserTypeMentor, Name: "<b>Ada</b>", Bio: "Go & SQL", IsActive: true,
	}})
	require.NoError(t, err)

	assert.Equal(t, "Ada", saved.Name)
	assert.Equal(t, 1, saved.Mentor.CurrentMentees)
	assert.Equal(t, 1, saved.Mentor.TotalMenteesEver)
	assert.Equal(t, mentorship.DefaultMaxMentees, saved.Mentor.MaxMentees)
}

func TestSaveProfile_ValidationError(t *testing.T) {
	h := newHarness(t)

	_, err := h.lifecycle.SaveProfile.Handle(context.Background(), SaveProfileCommand{Profile: mentorship.NewUserParams{UID: "x", Type: "robot"}})
	assert.True(t, shared.IsValidation(err))
}

func TestSaveProfile_RejectsShrinkBelowCurrent(t *testing.T) {
	h := newHarness(t)
	h.mentor(t, "m1", 3, 0)
	for _, s := range []string{"s1", "s2", "s3"} {
		h.student(t, s)
		require.NoError(t, h.request(s, "m1"))
		require.NoError(t, h.respond(s, "m1", "accept"))
	}

	one := 1
	_, err := h.lifecycle.SaveProfile.Handle(context.Background(), SaveProfileCommand{Profile: mentorship.NewUserParams{
		UID: "m1", Type: mentorship.UserTypeMentor, Name: "Mentor m1", IsActive: true, MaxMentees: &one,
	}})
	require.ErrorIs(t, err, shared.ErrInvalidUser)
	assert.ErrorIs(t, err, mentorship.ErrCapacityOverflow)

	u, err := h.store.GetUser(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 3, u.Mentor.MaxMentees)
	assert.Equal(t, 3, u.Mentor.CurrentMentees)
}

func TestSaveProfile_RejectsDemotionWithActiveMentees(t *testing.T) {
	h := newHarness(t)
	h.student(t, "s1")
	h.mentor(t, "m1", 3, 0)
	require.NoError(t, h.request("s1", "m1"))
	require.NoError(t, h.respond("s1", "m1", "accept"))

	demote := SaveProfileCommand{Profile: mentorship.NewUserParams{
		UID: "m1", Type: mentorship.UserTypeStudent, Name: "Mentor m1", IsActive: true,
	}}
	_, err := h.lifecycle.SaveProfile.Handle(context.Background(), demote)
	require.ErrorIs(t, err, shared.ErrInvalidUser)
	assert.ErrorIs(t, err, mentorship.ErrMentorHasMentees)

	u, err := h.store.GetUser(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, u.IsMentor())
	assert.Equal(t, 1, u.Mentor.CurrentMentees)

	require.NoError(t, h.terminate("s1", "m1", true))
	saved, err := h.lifecycle.SaveProfile.Handle(context.Background(), demote)
	require.NoError(t, err)
	assert.True(t, saved.IsStudent())
}
