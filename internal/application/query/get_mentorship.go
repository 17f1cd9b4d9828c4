package query

import (
	"context"
	"fmt"

	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET MENTORSHIP QUERY
// Текущее ребро пары. Клиент перечитывает его после 409/504.
// ══════════════════════════════════════════════════════════════════════════════

// GetMentorshipQuery идентифицирует пару.
type GetMentorshipQuery struct {
	StudentUID string
	MentorUID  string
}

// GetMentorshipHandler обрабатывает запрос.
type GetMentorshipHandler struct {
	store mentorship.RelationshipStore
}

// NewGetMentorshipHandler создаёт обработчик.
func NewGetMentorshipHandler(store mentorship.RelationshipStore) *GetMentorshipHandler {
	return &GetMentorshipHandler{store: store}
}

// Handle возвращает открытое ребро пары или последнее завершённое.
func (h *GetMentorshipHandler) Handle(ctx context.Context, q GetMentorshipQuery) (*EdgeDTO, error) {
	key := mentorship.PairKey{Student: mentorship.UserID(q.StudentUID), Mentor: mentorship.UserID(q.MentorUID)}
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("get_mentorship: %w", err)
	}

	edge, err := h.store.GetEdge(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get_mentorship: %w", err)
	}
	dto := NewEdgeDTO(edge)
	return &dto, nil
}
