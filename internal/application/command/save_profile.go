package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SAVE PROFILE COMMAND
// Imports a user profile from the account system (admin only).
// ══════════════════════════════════════════════════════════════════════════════

// SaveProfileCommand contains the imported profile.
type SaveProfileCommand struct {
	Profile mentorship.NewUserParams
}

// SaveProfileHandler handles the SaveProfileCommand.
type SaveProfileHandler struct {
	store mentorship.Store
	exec  *Executor
}

// NewSaveProfileHandler creates a new SaveProfileHandler.
func NewSaveProfileHandler(store mentorship.Store, exec *Executor) *SaveProfileHandler {
	return &SaveProfileHandler{store: store, exec: exec}
}

// Handle validates and upserts the profile. An existing mentor keeps its
// CurrentMentees and TotalMenteesEver; only the lifecycle changes them.
func (h *SaveProfileHandler) Handle(ctx context.Context, cmd SaveProfileCommand) (*mentorship.UserNode, error) {
	params := cmd.Profile
	params.Name = h.exec.Sanitizer().Text(params.Name)
	params.Bio = h.exec.Sanitizer().Text(params.Bio)
	if params.Now.IsZero() {
		params.Now = h.exec.Now()
	}

	user, err := mentorship.NewUser(params)
	if err != nil {
		return nil, fmt.Errorf("save_profile: %w", err)
	}

	var saved *mentorship.UserNode
	err = h.exec.run(ctx, operation{name: "save_profile", student: user.UID},
		func(ctx context.Context) (outcome, error) {
			var err error
			saved, err = h.store.SaveUser(ctx, user)
			if err != nil {
				return outcome{}, err
			}
			return outcome{events: []shared.Event{
				shared.NewProfileSavedEvent(h.exec.Now(), saved.UID.String(), string(saved.Type)),
			}}, nil
		})
	if err != nil {
		return nil, fmt.Errorf("save_profile: %w", err)
	}
	return saved, nil
}
