package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPOND TO MENTORSHIP COMMAND
// The mentor accepts or rejects a pending request.
// ══════════════════════════════════════════════════════════════════════════════

// RespondMentorshipCommand contains the mentor's decision.
type RespondMentorshipCommand struct {
	StudentUID    string
	MentorUID     string
	Decision      string
	CorrelationID string
}

// Validate validates the command.
func (c RespondMentorshipCommand) Validate() error {
	if _, err := pairKey("Respond", c.StudentUID, c.MentorUID); err != nil {
		return err
	}
	_, err := mentorship.ParseDecision(c.Decision)
	return err
}

// RespondMentorshipResult contains the updated edge and mentor.
type RespondMentorshipResult struct {
	Edge     *mentorship.Edge
	Mentor   *mentorship.UserNode
	Decision mentorship.Decision
	Events   []shared.Event
}

// RespondMentorshipHandler handles the RespondMentorshipCommand.
type RespondMentorshipHandler struct {
	store mentorship.Store
	exec  *Executor
}

// NewRespondMentorshipHandler creates a new RespondMentorshipHandler.
func NewRespondMentorshipHandler(store mentorship.Store, exec *Executor) *RespondMentorshipHandler {
	return &RespondMentorshipHandler{store: store, exec: exec}
}

// Handle executes the respond command.
//
// The capacity check and the counter increment of an accept run inside one
// store transition, so two accepts racing for the last slot cannot both win.
// Responding to an edge that is no longer pending, including a repeated
// response, yields ErrInvalidTransition and changes nothing.
func (h *RespondMentorshipHandler) Handle(ctx context.Context, cmd RespondMentorshipCommand) (*RespondMentorshipResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("respond_mentorship: %w", err)
	}
	key, _ := pairKey("Respond", cmd.StudentUID, cmd.MentorUID)
	decision, _ := mentorship.ParseDecision(cmd.Decision)

	result := &RespondMentorshipResult{Decision: decision}
	err := h.exec.run(ctx, operation{name: "respond", student: key.Student, mentor: key.Mentor},
		func(ctx context.Context) (outcome, error) {
			now := h.exec.Now()
			var from mentorship.EdgeStatus

			edge, mentor, err := h.store.TransitionEdge(ctx, key, func(e *mentorship.Edge, m *mentorship.UserNode) error {
				from = e.Status
				if decision == mentorship.DecisionAccept {
					return e.Accept(m, now)
				}
				return e.Reject(now)
			})
			if err != nil {
				return outcome{}, err
			}

			eventType := shared.EventMentorshipRejected
			if decision == mentorship.DecisionAccept {
				eventType = shared.EventMentorshipAccepted
			}
			event := changedEvent(eventType, now, from, edge, mentor)
			if cmd.CorrelationID != "" {
				event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
			}

			result.Edge = edge
			result.Mentor = mentor
			result.Events = []shared.Event{event}
			return outcome{status: edge.Status, events: result.Events}, nil
		})
	if err != nil {
		return nil, fmt.Errorf("respond_mentorship: %w", err)
	}
	return result, nil
}
