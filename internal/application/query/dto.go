// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"time"

	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
)

// ══════════════════════════════════════════════════════════════════════════════
// DTO
// ══════════════════════════════════════════════════════════════════════════════

// EdgeDTO - представление ребра для API.
type EdgeDTO struct {
	ID             string     `json:"id"`
	StudentUID     string     `json:"student_uid"`
	MentorUID      string     `json:"mentor_uid"`
	Status         string     `json:"status"`
	StartDate      time.Time  `json:"start_date"`
	Goals          []string   `json:"goals"`
	Notes          []string   `json:"notes"`
	LastDecisionAt *time.Time `json:"last_decision_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	EndReason      string     `json:"end_reason,omitempty"`
}

// NewEdgeDTO преобразует доменное ребро в DTO.
func NewEdgeDTO(e *mentorship.Edge) EdgeDTO {
	dto := EdgeDTO{
		ID:             e.ID,
		StudentUID:     e.StudentUID.String(),
		MentorUID:      e.MentorUID.String(),
		Status:         e.Status.String(),
		StartDate:      e.StartDate,
		Goals:          append([]string{}, e.Goals...),
		Notes:          append([]string{}, e.Notes...),
		LastDecisionAt: e.LastDecisionAt,
		EndedAt:        e.EndedAt,
		EndReason:      e.EndReason,
	}
	return dto
}

// ══════════════════════════════════════════════════════════════════════════════
// SUMMARY CACHE
// ══════════════════════════════════════════════════════════════════════════════

// SummaryCache хранит карточки профилей для списков запросов.
// Кэш необязателен: любая ошибка трактуется как промах.
type SummaryCache interface {
	// Get возвращает карточку; found=false при промахе.
	Get(ctx context.Context, uid mentorship.UserID) (summary mentorship.ProfileSummary, found bool, err error)

	// Set сохраняет карточку.
	Set(ctx context.Context, summary mentorship.ProfileSummary) error

	// Invalidate удаляет карточки.
	Invalidate(ctx context.Context, uids ...mentorship.UserID) error
}
