package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/mentorship-hub/internal/application/command"
)

type fakeReconciler struct {
	calls  []command.ReconcileCapacityCommand
	result *command.ReconcileCapacityResult
	err    error
}

func (f *fakeReconciler) Handle(_ context.Context, cmd command.ReconcileCapacityCommand) (*command.ReconcileCapacityResult, error) {
	f.calls = append(f.calls, cmd)
	return f.result, f.err
}

func TestReconcileCapacityJob_FollowsRepairFlag(t *testing.T) {
	rec := &fakeReconciler{result: &command.ReconcileCapacityResult{MentorsChecked: 2}}
	repair := false
	job := NewReconcileCapacityJob(rec, func() bool { return repair }, nil)

	require.NoError(t, job.Run(context.Background()))
	repair = true
	require.NoError(t, job.Run(context.Background()))

	require.Len(t, rec.calls, 2)
	assert.False(t, rec.calls[0].Repair)
	assert.True(t, rec.calls[1].Repair)
	assert.Equal(t, 2, job.LastResult().MentorsChecked)
	assert.Equal(t, "reconcile_capacity", job.Name())
}

func TestReconcileCapacityJob_ReportsPartialFailure(t *testing.T) {
	rec := &fakeReconciler{result: &command.ReconcileCapacityResult{MentorsChecked: 3, Failed: 1}}
	job := NewReconcileCapacityJob(rec, nil, nil)

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 4 mentors")
	assert.NotNil(t, job.LastResult())
}

func TestReconcileCapacityJob_PropagatesErrors(t *testing.T) {
	rec := &fakeReconciler{err: errors.New("store down")}
	job := NewReconcileCapacityJob(rec, nil, nil)

	assert.Error(t, job.Run(context.Background()))
	assert.Nil(t, job.LastResult())
}
