package mentorship

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// EdgeStatus определяет состояние менторского отношения.
type EdgeStatus string

const (
	// StatusPending - запрос студента ожидает ответа ментора.
	StatusPending EdgeStatus = "pending"

	// StatusActive - ментор принял запрос, место занято.
	StatusActive EdgeStatus = "active"

	// StatusRejected - ментор отклонил запрос.
	StatusRejected EdgeStatus = "rejected"

	// StatusCompleted - отношения завершены штатно.
	StatusCompleted EdgeStatus = "completed"

	// StatusTerminated - отношения прерваны.
	StatusTerminated EdgeStatus = "terminated"
)

// IsValid проверяет корректность статуса.
func (s EdgeStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusRejected, StatusCompleted, StatusTerminated:
		return true
	default:
		return false
	}
}

// IsOpen возвращает true для нетерминальных состояний (pending, active).
func (s EdgeStatus) IsOpen() bool {
	return s == StatusPending || s == StatusActive
}

// IsTerminal возвращает true для rejected, completed и terminated.
func (s EdgeStatus) IsTerminal() bool {
	return s.IsValid() && !s.IsOpen()
}

// CanTransitionTo проверяет допустимость перехода.
func (s EdgeStatus) CanTransitionTo(next EdgeStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusRejected
	case StatusActive:
		return next == StatusCompleted || next == StatusTerminated
	default:
		return false
	}
}

// String возвращает строковое представление.
func (s EdgeStatus) String() string {
	return string(s)
}

// ParseStatus разбирает статус из хранилища.
func ParseStatus(s string) (EdgeStatus, error) {
	st := EdgeStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("unknown mentorship status %q", s)
	}
	return st, nil
}

// Decision - ответ ментора на запрос.
type Decision string

const (
	// DecisionAccept - принять запрос.
	DecisionAccept Decision = "accept"

	// DecisionReject - отклонить запрос.
	DecisionReject Decision = "reject"
)

// ParseDecision разбирает решение ментора.
func ParseDecision(s string) (Decision, error) {
	d := Decision(strings.ToLower(strings.TrimSpace(s)))
	if d != DecisionAccept && d != DecisionReject {
		return "", shared.ErrInvalidDecision.With(fmt.Errorf("got %q", s))
	}
	return d, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PAIR KEY
// ══════════════════════════════════════════════════════════════════════════════

// PairKey идентифицирует пару студент–ментор.
type PairKey struct {
	Student UserID
	Mentor  UserID
}

// String возвращает "student->mentor".
func (k PairKey) String() string {
	return string(k.Student) + "->" + string(k.Mentor)
}

// Validate проверяет, что оба uid корректны и различны.
func (k PairKey) Validate() error {
	if !k.Student.IsValid() || !k.Mentor.IsValid() {
		return shared.ErrInvalidUser.With(ErrEmptyUID)
	}
	if k.Student == k.Mentor {
		return shared.ErrSelfMentorship
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EDGE
// ══════════════════════════════════════════════════════════════════════════════

// Edge — направленное ребро (студент) → (ментор) с состоянием отношений.
// Терминальные рёбра никогда не удаляются и остаются для аудита.
type Edge struct {
	// ID - уникальный идентификатор ребра (UUID).
	ID string

	// StudentUID - студент, отправивший запрос.
	StudentUID UserID

	// MentorUID - ментор, получивший запрос.
	MentorUID UserID

	// Status - текущее состояние.
	Status EdgeStatus

	// StartDate - время создания запроса (неизменяемо).
	StartDate time.Time

	// Goals - цели менторства, в порядке добавления.
	Goals []string

	// Notes - заметки, в порядке добавления.
	Notes []string

	// LastDecisionAt - время принятия или отклонения (nil, пока pending).
	LastDecisionAt *time.Time

	// EndedAt - время завершения (nil, пока не завершено).
	EndedAt *time.Time

	// EndReason - причина завершения.
	EndReason string

	// UpdatedAt - время последнего изменения.
	UpdatedAt time.Time
}

// NewEdgeParams содержит параметры для создания запроса.
type NewEdgeParams struct {
	ID         string
	StudentUID UserID
	MentorUID  UserID
	Goals      []string
	Now        time.Time
}

// NewEdge создаёт новое ребро в состоянии pending.
func NewEdge(params NewEdgeParams) (*Edge, error) {
	key := PairKey{Student: params.StudentUID, Mentor: params.MentorUID}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	return &Edge{
		ID:         id,
		StudentUID: params.StudentUID,
		MentorUID:  params.MentorUID,
		Status:     StatusPending,
		StartDate:  now,
		Goals:      compactStrings(params.Goals),
		Notes:      []string{},
		UpdatedAt:  now,
	}, nil
}

// Key возвращает пару студент–ментор.
func (e *Edge) Key() PairKey {
	return PairKey{Student: e.StudentUID, Mentor: e.MentorUID}
}

// Accept принимает запрос: проверяет ёмкость ментора и занимает одно место.
// Состояние ребра проверяется раньше ёмкости. При нехватке мест ребро остаётся pending.
func (e *Edge) Accept(mentor *UserNode, now time.Time) error {
	if err := e.requireStatus(StatusPending); err != nil {
		return err
	}
	if err := e.requireMentor(mentor); err != nil {
		return err
	}
	if !mentor.Mentor.HasFreeSlot() {
		return shared.ErrMentorAtCapacity.With(fmt.Errorf("%d of %d slots taken",
			mentor.Mentor.CurrentMentees, mentor.Mentor.MaxMentees))
	}

	now = now.UTC()
	e.Status = StatusActive
	e.LastDecisionAt = &now
	e.UpdatedAt = now

	mentor.Mentor.CurrentMentees++
	mentor.Mentor.TotalMenteesEver++
	mentor.UpdatedAt = now
	return nil
}

// Reject отклоняет запрос. Счётчик ментора не меняется.
func (e *Edge) Reject(now time.Time) error {
	if err := e.requireStatus(StatusPending); err != nil {
		return err
	}

	now = now.UTC()
	e.Status = StatusRejected
	e.LastDecisionAt = &now
	e.UpdatedAt = now
	return nil
}

// End завершает активные отношения: completed при graceful, иначе terminated.
// Счётчик уменьшается ровно на 1, но не ниже нуля.
func (e *Edge) End(mentor *UserNode, now time.Time, reason string, graceful bool) error {
	if err := e.requireStatus(StatusActive); err != nil {
		return err
	}
	if err := e.requireMentor(mentor); err != nil {
		return err
	}

	now = now.UTC()
	e.Status = StatusTerminated
	if graceful {
		e.Status = StatusCompleted
	}
	e.EndedAt = &now
	e.EndReason = strings.TrimSpace(reason)
	e.UpdatedAt = now

	if mentor.Mentor.CurrentMentees > 0 {
		mentor.Mentor.CurrentMentees--
	}
	mentor.UpdatedAt = now
	return nil
}

// Annotate дописывает цели и заметку к открытому ребру.
func (e *Edge) Annotate(goals []string, note string, now time.Time) error {
	if !e.Status.IsOpen() {
		return shared.ErrInvalidTransition.With(fmt.Errorf("cannot annotate %s mentorship", e.Status))
	}
	e.Goals = append(e.Goals, compactStrings(goals)...)
	if note = strings.TrimSpace(note); note != "" {
		e.Notes = append(e.Notes, note)
	}
	e.UpdatedAt = now.UTC()
	return nil
}

// Clone возвращает глубокую копию ребра.
func (e *Edge) Clone() *Edge {
	if e == nil {
		return nil
	}
	c := *e
	c.Goals = append([]string(nil), e.Goals...)
	c.Notes = append([]string(nil), e.Notes...)
	if e.LastDecisionAt != nil {
		t := *e.LastDecisionAt
		c.LastDecisionAt = &t
	}
	if e.EndedAt != nil {
		t := *e.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// String возвращает краткое описание для логов.
func (e *Edge) String() string {
	return fmt.Sprintf("Edge{%s %s}", e.Key(), e.Status)
}

func (e *Edge) requireStatus(want EdgeStatus) error {
	if e.Status != want {
		return shared.ErrInvalidTransition.With(fmt.Errorf("mentorship is %s, expected %s", e.Status, want))
	}
	return nil
}

func (e *Edge) requireMentor(mentor *UserNode) error {
	if !mentor.IsMentor() || mentor.UID != e.MentorUID {
		return shared.ErrMentorNotFound.With(fmt.Errorf("edge mentor %s", e.MentorUID))
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// LatestForPair выбирает «текущее» ребро пары: открытое, если есть,
// иначе терминальное с самой поздней датой начала.
func LatestForPair(edges []*Edge) *Edge {
	var latest *Edge
	for _, e := range edges {
		if e.Status.IsOpen() {
			return e
		}
		if latest == nil || e.StartDate.After(latest.StartDate) ||
			(e.StartDate.Equal(latest.StartDate) && e.ID > latest.ID) {
			latest = e
		}
	}
	return latest
}

// SortByStartDate сортирует рёбра по дате начала (старые первыми), затем по ID.
func SortByStartDate(edges []*Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		if !edges[i].StartDate.Equal(edges[j].StartDate) {
			return edges[i].StartDate.Before(edges[j].StartDate)
		}
		return edges[i].ID < edges[j].ID
	})
}

func compactStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
