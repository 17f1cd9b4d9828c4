package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
	"github.com/alem-hub/mentorship-hub/pkg/circuitbreaker"
	"github.com/alem-hub/mentorship-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST PENDING QUERY
// Очередь запросов: входящие у ментора, исходящие у студента.
// Каждая запись дополняется карточкой собеседника.
// ══════════════════════════════════════════════════════════════════════════════

// PendingRequestDTO - запрос в очереди вместе с карточкой собеседника.
type PendingRequestDTO struct {
	EdgeID      string                    `json:"edge_id"`
	StudentUID  string                    `json:"student_uid"`
	MentorUID   string                    `json:"mentor_uid"`
	StartDate   time.Time                 `json:"start_date"`
	Goals       []string                  `json:"goals"`
	Counterpart mentorship.ProfileSummary `json:"counterpart"`
}

// ListPendingResult - очередь запросов пользователя.
type ListPendingResult struct {
	UID      string              `json:"uid"`
	Side     string              `json:"side"`
	Requests []PendingRequestDTO `json:"requests"`
}

const (
	sideMentor  = "mentor"
	sideStudent = "student"
)

// ListPendingHandler обрабатывает запросы очереди.
type ListPendingHandler struct {
	store   mentorship.Store
	cache   SummaryCache
	breaker *circuitbreaker.CircuitBreaker
	logger  *logger.Logger
}

// NewListPendingHandler создаёт обработчик. cache может быть nil.
func NewListPendingHandler(store mentorship.Store, cache SummaryCache, log *logger.Logger) *ListPendingHandler {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("pending"))
	return &ListPendingHandler{
		store: store,
		cache: cache,
		breaker: circuitbreaker.New("summary-cache",
			circuitbreaker.WithFailureThreshold(3),
			circuitbreaker.WithSuccessThreshold(1),
			circuitbreaker.WithTimeout(30*time.Second),
			circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit breaker state changed",
					logger.String("breaker", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()),
				)
			}),
		),
		logger: log,
	}
}

// ListForMentor возвращает входящие запросы ментора, старые первыми.
func (h *ListPendingHandler) ListForMentor(ctx context.Context, uid string) (*ListPendingResult, error) {
	return h.list(ctx, uid, sideMentor)
}

// ListForStudent возвращает исходящие запросы студента, старые первыми.
func (h *ListPendingHandler) ListForStudent(ctx context.Context, uid string) (*ListPendingResult, error) {
	return h.list(ctx, uid, sideStudent)
}

func (h *ListPendingHandler) list(ctx context.Context, rawUID, side string) (*ListPendingResult, error) {
	uid := mentorship.UserID(strings.TrimSpace(rawUID))
	if !uid.IsValid() {
		return nil, fmt.Errorf("list_pending: %w",
			shared.NewDomainError("mentorship", "ListPending", shared.ErrInvalidInput, "uid is required"))
	}

	if _, err := h.owner(ctx, uid, side); err != nil {
		return nil, fmt.Errorf("list_pending: %w", err)
	}

	filter := mentorship.PendingForStudent(uid)
	if side == sideMentor {
		filter = mentorship.PendingForMentor(uid)
	}
	edges, err := h.store.ListPending(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list_pending: %w", err)
	}

	result := &ListPendingResult{
		UID:      uid.String(),
		Side:     side,
		Requests: make([]PendingRequestDTO, 0, len(edges)),
	}
	for _, e := range edges {
		other := e.MentorUID
		if side == sideMentor {
			other = e.StudentUID
		}
		summary, err := h.summary(ctx, other)
		if err != nil {
			return nil, fmt.Errorf("list_pending: counterpart %s: %w", other, err)
		}
		result.Requests = append(result.Requests, PendingRequestDTO{
			EdgeID:      e.ID,
			StudentUID:  e.StudentUID.String(),
			MentorUID:   e.MentorUID.String(),
			StartDate:   e.StartDate,
			Goals:       append([]string{}, e.Goals...),
			Counterpart: summary,
		})
	}
	return result, nil
}

func (h *ListPendingHandler) owner(ctx context.Context, uid mentorship.UserID, side string) (*mentorship.UserNode, error) {
	notFound := shared.ErrStudentNotFound
	if side == sideMentor {
		notFound = shared.ErrMentorNotFound
	}

	u, err := h.store.GetUser(ctx, uid)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, notFound.With(err)
		}
		return nil, err
	}
	if (side == sideMentor && !u.IsMentor()) || (side == sideStudent && !u.IsStudent()) {
		return nil, notFound.With(fmt.Errorf("%s is a %s", uid, u.Type))
	}
	return u, nil
}

// summary ищет карточку в кэше, затем в хранилище. Удалённый профиль
// заменяется заглушкой, чтобы очередь оставалась читаемой.
func (h *ListPendingHandler) summary(ctx context.Context, uid mentorship.UserID) (mentorship.ProfileSummary, error) {
	if s, ok := h.cachedSummary(ctx, uid); ok {
		return s, nil
	}

	u, err := h.store.GetUser(ctx, uid)
	if err != nil {
		if shared.IsNotFound(err) {
			return mentorship.UnknownSummary(uid), nil
		}
		return mentorship.ProfileSummary{}, err
	}

	s := u.Summary()
	h.storeSummary(ctx, s)
	return s, nil
}

func (h *ListPendingHandler) cachedSummary(ctx context.Context, uid mentorship.UserID) (mentorship.ProfileSummary, bool) {
	if h.cache == nil {
		return mentorship.ProfileSummary{}, false
	}
	var (
		s     mentorship.ProfileSummary
		found bool
	)
	err := h.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		s, found, err = h.cache.Get(ctx, uid)
		return err
	})
	if err != nil {
		h.logger.Debug("summary cache read failed", logger.UserUID(uid.String()), logger.Err(err))
		return mentorship.ProfileSummary{}, false
	}
	return s, found
}

func (h *ListPendingHandler) storeSummary(ctx context.Context, s mentorship.ProfileSummary) {
	if h.cache == nil {
		return
	}
	err := h.breaker.Execute(ctx, func(ctx context.Context) error {
		return h.cache.Set(ctx, s)
	})
	if err != nil {
		h.logger.Debug("summary cache write failed", logger.UserUID(s.UID.String()), logger.Err(err))
	}
}
