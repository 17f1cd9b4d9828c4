// Package jobs contains the scheduled jobs of the mentorship service.
package jobs

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/alem-hub/mentorship-hub/internal/application/command"
	"github.com/alem-hub/mentorship-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE CAPACITY JOB
// ══════════════════════════════════════════════════════════════════════════════

// Reconciler runs the capacity audit.
type Reconciler interface {
	Handle(ctx context.Context, cmd command.ReconcileCapacityCommand) (*command.ReconcileCapacityResult, error)
}

// ReconcileCapacityJob periodically compares every mentor's counter with
// the number of active edges.
type ReconcileCapacityJob struct {
	reconciler Reconciler
	repair     func() bool
	logger     *logger.Logger

	lastResult atomic.Pointer[command.ReconcileCapacityResult]
}

// NewReconcileCapacityJob creates the job. repair is consulted on every run,
// so a feature flag can switch auto-repair without a restart; nil means audit only.
func NewReconcileCapacityJob(reconciler Reconciler, repair func() bool, log *logger.Logger) *ReconcileCapacityJob {
	if repair == nil {
		repair = func() bool { return false }
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ReconcileCapacityJob{
		reconciler: reconciler,
		repair:     repair,
		logger:     log.With(logger.Component("reconcile_job")),
	}
}

// Name implements scheduler.Job.
func (j *ReconcileCapacityJob) Name() string { return "reconcile_capacity" }

// Description implements scheduler.Job.
func (j *ReconcileCapacityJob) Description() string {
	return "audits mentor capacity counters against active mentorships"
}

// Run implements scheduler.Job.
func (j *ReconcileCapacityJob) Run(ctx context.Context) error {
	repair := j.repair()
	res, err := j.reconciler.Handle(ctx, command.ReconcileCapacityCommand{Repair: repair})
	if err != nil {
		return fmt.Errorf("reconcile capacity: %w", err)
	}
	j.lastResult.Store(res)

	if len(res.Discrepancies) > 0 && !repair {
		j.logger.Warn("capacity drift found, auto-repair is off",
			logger.Int("discrepancies", len(res.Discrepancies)),
		)
	}
	if res.Failed > 0 {
		return fmt.Errorf("reconcile capacity: %d of %d mentors could not be checked",
			res.Failed, res.Failed+res.MentorsChecked)
	}
	return nil
}

// LastResult returns the report of the latest successful run, or nil.
func (j *ReconcileCapacityJob) LastResult() *command.ReconcileCapacityResult {
	return j.lastResult.Load()
}
