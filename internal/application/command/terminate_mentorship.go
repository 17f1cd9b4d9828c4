package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TERMINATE MENTORSHIP COMMAND
// Ends an active mentorship and frees the mentor's slot.
// ══════════════════════════════════════════════════════════════════════════════

// TerminateMentorshipCommand contains the data to end a mentorship.
type TerminateMentorshipCommand struct {
	StudentUID string
	MentorUID  string

	// Reason is stored on the edge after sanitizing.
	Reason string

	// Graceful ends as completed instead of terminated.
	Graceful bool

	CorrelationID string
}

// Validate validates the command.
func (c TerminateMentorshipCommand) Validate() error {
	_, err := pairKey("Terminate", c.StudentUID, c.MentorUID)
	return err
}

// TerminateMentorshipResult contains the ended edge.
type TerminateMentorshipResult struct {
	Edge   *mentorship.Edge
	Mentor *mentorship.UserNode
	Events []shared.Event
}

// TerminateMentorshipHandler handles the TerminateMentorshipCommand.
type TerminateMentorshipHandler struct {
	store mentorship.Store
	exec  *Executor
}

// NewTerminateMentorshipHandler creates a new TerminateMentorshipHandler.
func NewTerminateMentorshipHandler(store mentorship.Store, exec *Executor) *TerminateMentorshipHandler {
	return &TerminateMentorshipHandler{store: store, exec: exec}
}

// Handle executes the terminate command. Only an active edge can end.
func (h *TerminateMentorshipHandler) Handle(ctx context.Context, cmd TerminateMentorshipCommand) (*TerminateMentorshipResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("terminate_mentorship: %w", err)
	}
	key, _ := pairKey("Terminate", cmd.StudentUID, cmd.MentorUID)
	reason := h.exec.Sanitizer().Text(cmd.Reason)

	result := &TerminateMentorshipResult{}
	err := h.exec.run(ctx, operation{name: "terminate", student: key.Student, mentor: key.Mentor},
		func(ctx context.Context) (outcome, error) {
			now := h.exec.Now()
			edge, mentor, err := h.store.TransitionEdge(ctx, key, func(e *mentorship.Edge, m *mentorship.UserNode) error {
				return e.End(m, now, reason, cmd.Graceful)
			})
			if err != nil {
				return outcome{}, err
			}

			event := changedEvent(shared.EventMentorshipEnded, now, mentorship.StatusActive, edge, mentor)
			if cmd.CorrelationID != "" {
				event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
			}

			result.Edge = edge
			result.Mentor = mentor
			result.Events = []shared.Event{event}
			return outcome{status: edge.Status, events: result.Events}, nil
		})
	if err != nil {
		return nil, fmt.Errorf("terminate_mentorship: %w", err)
	}
	return result, nil
}
