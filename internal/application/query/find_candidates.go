package query

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
	"github.com/alem-hub/mentorship-hub/pkg/logger"
)

// TracerName - имя инструментирования для спанов запросов.
const TracerName = "github.com/alem-hub/mentorship-hub/internal/application/query"

// ══════════════════════════════════════════════════════════════════════════════
// FIND CANDIDATES QUERY
// Подбирает менторов для студента: только активные менторы со свободным местом,
// упорядоченные оценкой совместимости.
// ══════════════════════════════════════════════════════════════════════════════

// FindCandidatesQuery содержит параметры подбора.
type FindCandidatesQuery struct {
	// StudentUID - студент, для которого подбираются менторы.
	StudentUID string

	// Category - точное вхождение в экспертизу ментора (пусто = любая).
	Category string

	// Limit - максимум результатов (0 = значение по умолчанию).
	Limit int

	// Exclude - менторы, которых не нужно предлагать.
	Exclude []string
}

// MatchingConfig - лимиты подбора.
type MatchingConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// DefaultMatchingConfig возвращает лимиты по умолчанию.
func DefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{DefaultLimit: 12, MaxLimit: 50}
}

// normalize проверяет запрос и применяет лимиты.
func (q *FindCandidatesQuery) normalize(cfg MatchingConfig) error {
	q.StudentUID = strings.TrimSpace(q.StudentUID)
	if !mentorship.UserID(q.StudentUID).IsValid() {
		return shared.NewDomainError("matching", "FindCandidates", shared.ErrInvalidInput, "student_uid is required")
	}
	q.Category = strings.TrimSpace(q.Category)
	if q.Limit <= 0 {
		q.Limit = cfg.DefaultLimit
	}
	if q.Limit > cfg.MaxLimit {
		q.Limit = cfg.MaxLimit
	}
	return nil
}

// CandidateDTO - кандидат в менторы.
type CandidateDTO struct {
	Mentor            mentorship.ProfileSummary `json:"mentor"`
	Score             float64                   `json:"score"`
	Breakdown         mentorship.ScoreBreakdown `json:"breakdown"`
	Rating            float64                   `json:"rating"`
	YearsOfExperience int                       `json:"years_of_experience"`
}

func newCandidateDTO(s mentorship.ScoredMentor) CandidateDTO {
	dto := CandidateDTO{
		Mentor:    s.Mentor.Summary(),
		Score:     s.Score,
		Breakdown: s.Breakdown,
	}
	if s.Mentor.Mentor != nil {
		dto.Rating = s.Mentor.Mentor.Rating
		dto.YearsOfExperience = s.Mentor.Mentor.YearsOfExperience
	}
	return dto
}

// FindCandidatesResult - результат подбора.
type FindCandidatesResult struct {
	StudentUID string         `json:"student_uid"`
	Candidates []CandidateDTO `json:"candidates"`

	// TotalEligible - число подходящих менторов до применения лимита.
	TotalEligible int `json:"total_eligible"`
}

// FindCandidatesHandler обрабатывает запрос подбора.
type FindCandidatesHandler struct {
	store  mentorship.ProfileStore
	scorer *mentorship.Scorer
	config MatchingConfig
	tracer trace.Tracer
	logger *logger.Logger
}

// NewFindCandidatesHandler создаёт обработчик.
func NewFindCandidatesHandler(store mentorship.ProfileStore, scorer *mentorship.Scorer, config MatchingConfig, log *logger.Logger) *FindCandidatesHandler {
	defaults := DefaultMatchingConfig()
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = defaults.DefaultLimit
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = defaults.MaxLimit
	}
	if scorer == nil {
		scorer = mentorship.DefaultScorer()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &FindCandidatesHandler{
		store:  store,
		scorer: scorer,
		config: config,
		tracer: otel.Tracer(TracerName),
		logger: log.With(logger.Component("matching")),
	}
}

// Handle выполняет подбор. Пустой список - успешный результат.
func (h *FindCandidatesHandler) Handle(ctx context.Context, q FindCandidatesQuery) (*FindCandidatesResult, error) {
	if err := q.normalize(h.config); err != nil {
		return nil, fmt.Errorf("find_candidates: %w", err)
	}

	ctx, span := h.tracer.Start(ctx, "matching.find_candidates", trace.WithAttributes(
		attribute.String("mentorship.student_uid", q.StudentUID),
		attribute.String("matching.category", q.Category),
		attribute.Int("matching.limit", q.Limit),
	))
	defer span.End()

	ranking, err := h.rank(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "find candidates failed")
		return nil, fmt.Errorf("find_candidates: %w", err)
	}

	top := ranking.Top(q.Limit)
	result := &FindCandidatesResult{
		StudentUID:    q.StudentUID,
		Candidates:    make([]CandidateDTO, 0, len(top)),
		TotalEligible: ranking.Len(),
	}
	for _, s := range top {
		result.Candidates = append(result.Candidates, newCandidateDTO(s))
	}

	span.SetAttributes(attribute.Int("matching.results", len(result.Candidates)))
	h.logger.Debug("candidates ranked",
		logger.StudentUID(q.StudentUID),
		logger.Int("eligible", result.TotalEligible),
		logger.Int("returned", len(result.Candidates)),
	)
	return result, nil
}

// NextCandidate возвращает лучшего кандидата после свежего подбора,
// исключая указанного ментора. nil - если больше предложить некого.
func (h *FindCandidatesHandler) NextCandidate(ctx context.Context, studentUID, excludeMentor string) (*CandidateDTO, error) {
	res, err := h.Handle(ctx, FindCandidatesQuery{
		StudentUID: studentUID,
		Limit:      1,
		Exclude:    []string{excludeMentor},
	})
	if err != nil {
		return nil, err
	}
	if len(res.Candidates) == 0 {
		return nil, nil
	}
	return &res.Candidates[0], nil
}

func (h *FindCandidatesHandler) rank(ctx context.Context, q FindCandidatesQuery) (mentorship.Ranking, error) {
	student, err := h.store.GetUser(ctx, mentorship.UserID(q.StudentUID))
	if err != nil {
		if shared.IsNotFound(err) {
			return mentorship.Ranking{}, shared.ErrStudentNotFound.With(err)
		}
		return mentorship.Ranking{}, err
	}
	if !student.IsStudent() {
		return mentorship.Ranking{}, shared.ErrStudentNotFound.With(fmt.Errorf("%s is a %s", student.UID, student.Type))
	}

	mentors, err := h.store.ListMentors(ctx, mentorship.MentorFilter{OnlyEligible: true, Category: q.Category})
	if err != nil {
		return mentorship.Ranking{}, err
	}

	exclude := make([]mentorship.UserID, 0, len(q.Exclude))
	for _, uid := range q.Exclude {
		if uid = strings.TrimSpace(uid); uid != "" {
			exclude = append(exclude, mentorship.UserID(uid))
		}
	}
	return h.scorer.Rank(student, mentors).Without(exclude...), nil
}
