// Package command contains write operations (CQRS - Commands).
// Every mentorship state change goes through the handlers in this package.
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
	"github.com/alem-hub/mentorship-hub/pkg/circuitbreaker"
	"github.com/alem-hub/mentorship-hub/pkg/logger"
	"github.com/alem-hub/mentorship-hub/pkg/retry"
	"github.com/alem-hub/mentorship-hub/pkg/textsafe"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXECUTOR
// Shared runtime of every lifecycle write: detached execution, retries,
// circuit breaking, tracing, logging and event publishing.
// ══════════════════════════════════════════════════════════════════════════════

// TracerName is the instrumentation scope of lifecycle spans.
const TracerName = "github.com/alem-hub/mentorship-hub/internal/application/command"

// ExecutorConfig contains configuration for the executor.
type ExecutorConfig struct {
	// OperationTimeout bounds a write after it has been detached from the caller.
	OperationTimeout time.Duration

	// RetryAttempts is the number of attempts for an unavailable store.
	RetryAttempts int

	// RetryInitialDelay is the first backoff delay.
	RetryInitialDelay time.Duration
}

// DefaultExecutorConfig returns default configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		OperationTimeout:  10 * time.Second,
		RetryAttempts:     3,
		RetryInitialDelay: 50 * time.Millisecond,
	}
}

// ExecutorDeps lists the collaborators of the executor. Nil fields get defaults.
type ExecutorDeps struct {
	Publisher shared.EventPublisher
	Clock     clock.Clock
	Logger    *logger.Logger
	Tracer    trace.Tracer
	Breaker   *circuitbreaker.CircuitBreaker
	Sanitizer *textsafe.Sanitizer
}

// Executor runs lifecycle writes.
type Executor struct {
	publisher shared.EventPublisher
	clock     clock.Clock
	logger    *logger.Logger
	tracer    trace.Tracer
	retrier   *retry.Retrier
	breaker   *circuitbreaker.CircuitBreaker
	sanitizer *textsafe.Sanitizer
	timeout   time.Duration
}

// NewExecutor creates a new Executor.
func NewExecutor(deps ExecutorDeps, config ExecutorConfig) *Executor {
	defaults := DefaultExecutorConfig()
	if config.OperationTimeout <= 0 {
		config.OperationTimeout = defaults.OperationTimeout
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = defaults.RetryAttempts
	}
	if config.RetryInitialDelay <= 0 {
		config.RetryInitialDelay = defaults.RetryInitialDelay
	}

	if deps.Publisher == nil {
		deps.Publisher = shared.NopPublisher{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(TracerName)
	}
	if deps.Sanitizer == nil {
		deps.Sanitizer = textsafe.New()
	}
	log := deps.Logger.With(logger.Component("lifecycle"))
	if deps.Breaker == nil {
		deps.Breaker = circuitbreaker.StoreBreaker(shared.IsRetryable,
			func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit breaker state changed",
					logger.String("breaker", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()),
				)
			},
			circuitbreaker.WithClock(deps.Clock),
		)
	}

	return &Executor{
		publisher: deps.Publisher,
		clock:     deps.Clock,
		logger:    log,
		tracer:    deps.Tracer,
		breaker:   deps.Breaker,
		sanitizer: deps.Sanitizer,
		timeout:   config.OperationTimeout,
		retrier: retry.StoreRetrier(shared.IsRetryable,
			retry.WithMaxAttempts(config.RetryAttempts),
			retry.WithInitialDelay(config.RetryInitialDelay),
			retry.WithClock(deps.Clock),
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				log.Warn("store unavailable, retrying",
					logger.Int("attempt", attempt),
					logger.Err(err),
					logger.Duration("delay", delay),
				)
			}),
		),
	}
}

// Now returns the executor clock time in UTC.
func (x *Executor) Now() time.Time {
	return x.clock.Now().UTC()
}

// Sanitizer returns the text sanitizer.
func (x *Executor) Sanitizer() *textsafe.Sanitizer {
	return x.sanitizer
}

// operation describes one lifecycle write for tracing and logging.
type operation struct {
	name    string
	student mentorship.UserID
	mentor  mentorship.UserID
}

// outcome is what a write reports back for the log line and the span.
type outcome struct {
	status mentorship.EdgeStatus
	events []shared.Event
}

// run executes fn detached from the caller's cancellation.
//
// fn runs under context.WithoutCancel(ctx) bounded by OperationTimeout, with
// store unavailability retried. Once started, the write always runs to a
// definite end. If ctx is done first, run returns ErrOperationAbandoned and
// the write goes on in the background; its events are still published.
// A write that outlives OperationTimeout returns ErrOperationTimedOut.
func (x *Executor) run(ctx context.Context, op operation, fn func(ctx context.Context) (outcome, error)) error {
	if err := ctx.Err(); err != nil {
		return shared.ErrOperationAbandoned.With(err)
	}

	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), x.timeout)
	done := make(chan error, 1)

	go func() {
		defer cancel()
		done <- x.execute(detached, op, fn)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return shared.ErrOperationAbandoned.With(fmt.Errorf("%s: %w", op.name, ctx.Err()))
	}
}

func (x *Executor) execute(ctx context.Context, op operation, fn func(ctx context.Context) (outcome, error)) error {
	start := x.clock.Now()
	ctx, span := x.tracer.Start(ctx, "mentorship."+op.name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("mentorship.student_uid", op.student.String()),
			attribute.String("mentorship.mentor_uid", op.mentor.String()),
		),
	)
	defer span.End()

	result, err := retry.DoWithData(ctx, x.retrier, func(ctx context.Context) (outcome, error) {
		var res outcome
		err := x.breaker.Execute(ctx, func(ctx context.Context) error {
			var opErr error
			res, opErr = fn(ctx)
			return opErr
		})
		return res, err
	})
	if circuitbreaker.IsRejected(err) {
		err = shared.ErrStoreUnavailable.With(err)
	}
	if timedOut(ctx, err) {
		err = shared.ErrOperationTimedOut.With(fmt.Errorf("%s after %s: %v", op.name, x.timeout, err))
	}

	fields := []logger.Field{
		logger.Operation(op.name),
		logger.StudentUID(op.student.String()),
		logger.MentorUID(op.mentor.String()),
		logger.Latency(x.clock.Now().Sub(start)),
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorCode(err))
		span.SetAttributes(attribute.String("mentorship.outcome", errorCode(err)))
		fields = append(fields, logger.Err(err), logger.String("outcome", errorCode(err)))
		if shared.IsRetryable(err) {
			x.logger.Error("mentorship operation failed", fields...)
		} else {
			x.logger.Info("mentorship operation refused", fields...)
		}
		return err
	}

	span.SetStatus(codes.Ok, "")
	span.SetAttributes(
		attribute.String("mentorship.outcome", "ok"),
		attribute.String("mentorship.status", result.status.String()),
	)
	x.logger.Info("mentorship operation completed", append(fields, logger.EdgeStatus(result.status.String()))...)

	x.publish(result.events)
	return nil
}

func (x *Executor) publish(events []shared.Event) {
	for _, e := range events {
		if err := x.publisher.Publish(e); err != nil {
			x.logger.Warn("failed to publish event",
				logger.String("event_type", string(e.EventType())),
				logger.Err(err),
			)
		}
	}
}

// timedOut reports whether the write ran into OperationTimeout. The store
// may or may not have committed, so the error must not look retryable.
// The cause is kept as text only.
func timedOut(ctx context.Context, err error) bool {
	if err == nil || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return false
	}
	return shared.IsRetryable(err) || shared.IsOutcomeUnknown(err) || errors.Is(err, context.DeadlineExceeded)
}

// errorCode returns a short classification used in spans and logs.
func errorCode(err error) string {
	switch {
	case shared.IsNotFound(err):
		return "not_found"
	case shared.IsConflict(err):
		return "conflict"
	case shared.IsCapacityExceeded(err):
		return "capacity_exceeded"
	case shared.IsInvalidTransition(err):
		return "invalid_transition"
	case shared.IsValidation(err):
		return "invalid_request"
	case shared.IsOutcomeUnknown(err):
		return "outcome_unknown"
	case shared.IsRetryable(err):
		return "store_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE FACADE
// ══════════════════════════════════════════════════════════════════════════════

// Lifecycle groups every write handler over one store and executor.
type Lifecycle struct {
	Request     *RequestMentorshipHandler
	Respond     *RespondMentorshipHandler
	Terminate   *TerminateMentorshipHandler
	Annotate    *AnnotateMentorshipHandler
	Reconcile   *ReconcileCapacityHandler
	SaveProfile *SaveProfileHandler
}

// NewLifecycle wires all handlers.
func NewLifecycle(store mentorship.Store, exec *Executor, reconcile ReconcileConfig) *Lifecycle {
	return &Lifecycle{
		Request:     NewRequestMentorshipHandler(store, exec),
		Respond:     NewRespondMentorshipHandler(store, exec),
		Terminate:   NewTerminateMentorshipHandler(store, exec),
		Annotate:    NewAnnotateMentorshipHandler(store, exec),
		Reconcile:   NewReconcileCapacityHandler(store, exec, reconcile),
		SaveProfile: NewSaveProfileHandler(store, exec),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func pairKey(op, student, mentor string) (mentorship.PairKey, error) {
	key := mentorship.PairKey{
		Student: mentorship.UserID(student),
		Mentor:  mentorship.UserID(mentor),
	}
	if !key.Student.IsValid() {
		return key, invalidInput(op, "student_uid is required")
	}
	if !key.Mentor.IsValid() {
		return key, invalidInput(op, "mentor_uid is required")
	}
	if err := key.Validate(); err != nil {
		return key, err
	}
	return key, nil
}

func invalidInput(op, message string) error {
	return shared.NewDomainError("mentorship", op, shared.ErrInvalidInput, message)
}

func changedEvent(eventType shared.EventType, at time.Time, from mentorship.EdgeStatus, edge *mentorship.Edge, mentor *mentorship.UserNode) shared.MentorshipChangedEvent {
	ev := shared.NewMentorshipChangedEvent(eventType, at, edge.ID,
		edge.StudentUID.String(), edge.MentorUID.String(), string(from), edge.Status.String())
	if mentor != nil && mentor.Mentor != nil {
		ev.CurrentMentees = mentor.Mentor.CurrentMentees
		ev.MaxMentees = mentor.Mentor.MaxMentees
	}
	ev.Reason = edge.EndReason
	return ev
}
