package command

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/montanaflynn/stats"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
	"github.com/alem-hub/mentorship-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE CAPACITY COMMAND
// Audits every mentor's counter against the number of active edges and,
// when asked, repairs it under the mentor lock.
// ══════════════════════════════════════════════════════════════════════════════

// ReconcileCapacityCommand contains the audit options.
type ReconcileCapacityCommand struct {
	// Repair rewrites drifted counters. Without it the audit is read-only.
	Repair bool
}

// Discrepancy describes one mentor whose counter disagrees with its edges.
type Discrepancy struct {
	MentorUID   mentorship.UserID `json:"mentor_uid"`
	Recorded    int               `json:"recorded"`
	ActiveEdges int               `json:"active_edges"`
	Repaired    bool              `json:"repaired"`
}

// UtilizationStats summarizes current/max across mentors.
type UtilizationStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
}

// ReconcileCapacityResult contains the audit report.
type ReconcileCapacityResult struct {
	MentorsChecked int              `json:"mentors_checked"`
	Discrepancies  []Discrepancy    `json:"discrepancies"`
	Utilization    UtilizationStats `json:"utilization"`
	Failed         int              `json:"failed"`
}

// ReconcileConfig contains configuration for the audit.
type ReconcileConfig struct {
	// Concurrency is the number of mentors audited in parallel.
	Concurrency int
}

// DefaultReconcileConfig returns default configuration.
func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{Concurrency: 4}
}

// ReconcileCapacityHandler handles the ReconcileCapacityCommand.
type ReconcileCapacityHandler struct {
	store  mentorship.Store
	exec   *Executor
	config ReconcileConfig
}

// NewReconcileCapacityHandler creates a new ReconcileCapacityHandler.
func NewReconcileCapacityHandler(store mentorship.Store, exec *Executor, config ReconcileConfig) *ReconcileCapacityHandler {
	if config.Concurrency <= 0 {
		config = DefaultReconcileConfig()
	}
	return &ReconcileCapacityHandler{store: store, exec: exec, config: config}
}

// Handle runs the audit. A mentor that cannot be checked is logged and
// counted in Failed; the audit goes on with the others.
func (h *ReconcileCapacityHandler) Handle(ctx context.Context, cmd ReconcileCapacityCommand) (*ReconcileCapacityResult, error) {
	ctx, span := h.exec.tracer.Start(ctx, "mentorship.reconcile")
	defer span.End()
	span.SetAttributes(attribute.Bool("mentorship.repair", cmd.Repair))

	mentors, err := h.store.ListMentors(ctx, mentorship.MentorFilter{})
	if err != nil {
		span.SetStatus(codes.Error, errorCode(err))
		return nil, fmt.Errorf("reconcile_capacity: list mentors: %w", err)
	}

	var (
		mu          sync.Mutex
		drift       []Discrepancy
		utilization = make([]float64, 0, len(mentors))
		failed      int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Concurrency)

	for _, m := range mentors {
		uid := m.UID
		g.Go(func() error {
			d, checked, err := h.auditMentor(gctx, uid, cmd.Repair)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				h.exec.logger.Warn("capacity audit failed for mentor", logger.MentorUID(uid.String()), logger.Err(err))
				return nil
			}
			if d != nil {
				drift = append(drift, *d)
			}
			utilization = append(utilization, checked.Mentor.Utilization())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reconcile_capacity: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("reconcile_capacity: %w", err)
	}

	sort.Slice(drift, func(i, j int) bool { return drift[i].MentorUID < drift[j].MentorUID })
	if drift == nil {
		drift = []Discrepancy{}
	}

	result := &ReconcileCapacityResult{
		MentorsChecked: len(mentors) - failed,
		Discrepancies:  drift,
		Utilization:    summarizeUtilization(utilization),
		Failed:         failed,
	}

	now := h.exec.Now()
	events := make([]shared.Event, 0, len(drift))
	for _, d := range drift {
		events = append(events, shared.NewCapacityDriftEvent(now, d.MentorUID.String(), d.Recorded, d.ActiveEdges, d.Repaired))
	}
	h.exec.publish(events)

	span.SetAttributes(
		attribute.Int("mentorship.mentors_checked", result.MentorsChecked),
		attribute.Int("mentorship.discrepancies", len(drift)),
	)
	h.exec.logger.Info("capacity audit finished",
		logger.Operation("reconcile"),
		logger.Int("mentors_checked", result.MentorsChecked),
		logger.Int("discrepancies", len(drift)),
		logger.Int("failed", failed),
		logger.Bool("repair", cmd.Repair),
		logger.Float64("utilization_mean", result.Utilization.Mean),
	)
	return result, nil
}

func (h *ReconcileCapacityHandler) auditMentor(ctx context.Context, uid mentorship.UserID, repair bool) (*Discrepancy, *mentorship.UserNode, error) {
	var (
		found  *Discrepancy
		mentor *mentorship.UserNode
	)
	err := h.exec.retrier.Do(ctx, func(ctx context.Context) error {
		found = nil
		var repErr error
		mentor, repErr = h.store.RepairMentor(ctx, uid, func(m *mentorship.UserNode, active int) (bool, error) {
			recorded := m.Mentor.CurrentMentees
			if recorded == active {
				return false, nil
			}
			found = &Discrepancy{MentorUID: m.UID, Recorded: recorded, ActiveEdges: active}
			if !repair {
				return false, nil
			}
			m.Mentor.CurrentMentees = clampCount(active, m.Mentor.MaxMentees)
			m.UpdatedAt = h.exec.Now()
			found.Repaired = true
			return true, nil
		})
		return repErr
	})
	if err != nil {
		return nil, nil, err
	}
	return found, mentor, nil
}

func clampCount(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

func summarizeUtilization(data stats.Float64Data) UtilizationStats {
	if len(data) == 0 {
		return UtilizationStats{}
	}
	var out UtilizationStats
	out.Mean, _ = stats.Mean(data)
	out.Median, _ = stats.Median(data)
	out.P90, _ = stats.Percentile(data, 90)
	return out
}
