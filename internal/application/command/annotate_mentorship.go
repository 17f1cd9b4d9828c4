package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ANNOTATE MENTORSHIP COMMAND
// Appends goals and a note to an open mentorship.
// ══════════════════════════════════════════════════════════════════════════════

// AnnotateMentorshipCommand contains goals and a note to append.
type AnnotateMentorshipCommand struct {
	StudentUID string
	MentorUID  string
	Goals      []string
	Note       string
}

// Validate validates the command.
func (c AnnotateMentorshipCommand) Validate() error {
	_, err := pairKey("Annotate", c.StudentUID, c.MentorUID)
	return err
}

// AnnotateMentorshipResult contains the annotated edge.
type AnnotateMentorshipResult struct {
	Edge   *mentorship.Edge
	Events []shared.Event
}

// AnnotateMentorshipHandler handles the AnnotateMentorshipCommand.
type AnnotateMentorshipHandler struct {
	store mentorship.Store
	exec  *Executor
}

// NewAnnotateMentorshipHandler creates a new AnnotateMentorshipHandler.
func NewAnnotateMentorshipHandler(store mentorship.Store, exec *Executor) *AnnotateMentorshipHandler {
	return &AnnotateMentorshipHandler{store: store, exec: exec}
}

// Handle executes the annotate command. Status and counter never change.
func (h *AnnotateMentorshipHandler) Handle(ctx context.Context, cmd AnnotateMentorshipCommand) (*AnnotateMentorshipResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("annotate_mentorship: %w", err)
	}
	key, _ := pairKey("Annotate", cmd.StudentUID, cmd.MentorUID)
	goals := h.exec.Sanitizer().Texts(cmd.Goals)
	note := h.exec.Sanitizer().Text(cmd.Note)
	if len(goals) == 0 && note == "" {
		return nil, fmt.Errorf("annotate_mentorship: %w", invalidInput("Annotate", "goals or note is required"))
	}

	result := &AnnotateMentorshipResult{}
	err := h.exec.run(ctx, operation{name: "annotate", student: key.Student, mentor: key.Mentor},
		func(ctx context.Context) (outcome, error) {
			now := h.exec.Now()
			edge, mentor, err := h.store.TransitionEdge(ctx, key, func(e *mentorship.Edge, _ *mentorship.UserNode) error {
				return e.Annotate(goals, note, now)
			})
			if err != nil {
				return outcome{}, err
			}

			event := changedEvent(shared.EventMentorshipAnnotated, now, edge.Status, edge, mentor)
			result.Edge = edge
			result.Events = []shared.Event{event}
			return outcome{status: edge.Status, events: result.Events}, nil
		})
	if err != nil {
		return nil, fmt.Errorf("annotate_mentorship: %w", err)
	}
	return result, nil
}
