package command

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST MENTORSHIP COMMAND
// A student asks a mentor for mentorship. Creates a pending edge.
// ══════════════════════════════════════════════════════════════════════════════

// RequestMentorshipCommand contains the data to open a request.
type RequestMentorshipCommand struct {
	// StudentUID is the student sending the request.
	StudentUID string

	// MentorUID is the mentor receiving it.
	MentorUID string

	// Goals are optional initial goals.
	Goals []string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RequestMentorshipCommand) Validate() error {
	_, err := pairKey("Request", c.StudentUID, c.MentorUID)
	return err
}

// RequestMentorshipResult contains the created edge.
type RequestMentorshipResult struct {
	Edge   *mentorship.Edge
	Events []shared.Event
}

// RequestMentorshipHandler handles the RequestMentorshipCommand.
type RequestMentorshipHandler struct {
	store mentorship.Store
	exec  *Executor
}

// NewRequestMentorshipHandler creates a new RequestMentorshipHandler.
func NewRequestMentorshipHandler(store mentorship.Store, exec *Executor) *RequestMentorshipHandler {
	return &RequestMentorshipHandler{store: store, exec: exec}
}

// Handle executes the request mentorship command.
//
// Errors: ErrStudentNotFound / ErrMentorNotFound when a party is missing or has
// the wrong role, ErrOpenEdgeExists when the pair already has a pending or
// active edge. The mentor counter is never touched.
func (h *RequestMentorshipHandler) Handle(ctx context.Context, cmd RequestMentorshipCommand) (*RequestMentorshipResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("request_mentorship: %w", err)
	}
	key, _ := pairKey("Request", cmd.StudentUID, cmd.MentorUID)
	goals := h.exec.Sanitizer().Texts(cmd.Goals)
	edgeID := uuid.NewString()

	result := &RequestMentorshipResult{}
	err := h.exec.run(ctx, operation{name: "request", student: key.Student, mentor: key.Mentor},
		func(ctx context.Context) (outcome, error) {
			if err := h.checkParties(ctx, key); err != nil {
				return outcome{}, err
			}

			now := h.exec.Now()
			edge, err := mentorship.NewEdge(mentorship.NewEdgeParams{
				ID:         edgeID,
				StudentUID: key.Student,
				MentorUID:  key.Mentor,
				Goals:      goals,
				Now:        now,
			})
			if err != nil {
				return outcome{}, err
			}
			if err := h.store.CreateEdge(ctx, edge); err != nil {
				return outcome{}, err
			}

			event := changedEvent(shared.EventMentorshipRequested, now, "", edge, nil)
			if cmd.CorrelationID != "" {
				event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
			}

			result.Edge = edge
			result.Events = []shared.Event{event}
			return outcome{status: edge.Status, events: result.Events}, nil
		})
	if err != nil {
		return nil, fmt.Errorf("request_mentorship: %w", err)
	}
	return result, nil
}

func (h *RequestMentorshipHandler) checkParties(ctx context.Context, key mentorship.PairKey) error {
	student, err := h.store.GetUser(ctx, key.Student)
	if err != nil {
		if shared.IsNotFound(err) {
			return shared.ErrStudentNotFound.With(err)
		}
		return err
	}
	if !student.IsStudent() {
		return shared.ErrStudentNotFound.With(fmt.Errorf("%s is a %s", key.Student, student.Type))
	}

	mentor, err := h.store.GetUser(ctx, key.Mentor)
	if err != nil {
		if shared.IsNotFound(err) {
			return shared.ErrMentorNotFound.With(err)
		}
		return err
	}
	if !mentor.IsMentor() {
		return shared.ErrMentorNotFound.With(fmt.Errorf("%s is a %s", key.Mentor, mentor.Type))
	}
	return nil
}
