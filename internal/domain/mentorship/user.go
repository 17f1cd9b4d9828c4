package mentorship

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// UserID — уникальный неизменяемый идентификатор пользователя (uid).
type UserID string

// IsValid проверяет, что UserID непустой и без пробелов по краям.
func (u UserID) IsValid() bool {
	s := string(u)
	return s != "" && strings.TrimSpace(s) == s && len(s) <= 128
}

// String возвращает строковое представление.
func (u UserID) String() string {
	return string(u)
}

// UserType определяет роль пользователя на платформе.
type UserType string

const (
	// UserTypeStudent - студент, ищущий ментора.
	UserTypeStudent UserType = "student"

	// UserTypeMentor - ментор с ограниченной ёмкостью.
	UserTypeMentor UserType = "mentor"

	// UserTypeAdmin - администратор.
	UserTypeAdmin UserType = "admin"

	// UserTypeDonor - донор.
	UserTypeDonor UserType = "donor"
)

// IsValid проверяет корректность типа.
func (t UserType) IsValid() bool {
	switch t {
	case UserTypeStudent, UserTypeMentor, UserTypeAdmin, UserTypeDonor:
		return true
	default:
		return false
	}
}

const (
	// DefaultMaxMentees - ёмкость ментора по умолчанию.
	DefaultMaxMentees = 3

	// MaxRating - верхняя граница рейтинга ментора.
	MaxRating = 5.0

	// bioExcerptRunes - длина выдержки из биографии для карточек.
	bioExcerptRunes = 160
)

// Ошибки валидации профиля. Возвращаются обёрнутыми в shared.ErrInvalidUser.
var (
	// ErrEmptyUID - пустой или некорректный uid.
	ErrEmptyUID = errors.New("uid is required")

	// ErrUnknownUserType - неизвестный тип пользователя.
	ErrUnknownUserType = errors.New("unknown user type")

	// ErrNegativeCapacity - отрицательные значения ёмкости или опыта.
	ErrNegativeCapacity = errors.New("mentor counters must be non-negative")

	// ErrCapacityOverflow - текущих менти больше, чем максимум.
	ErrCapacityOverflow = errors.New("current mentees exceed max mentees")

	// ErrRatingOutOfRange - рейтинг вне диапазона [0, 5].
	ErrRatingOutOfRange = errors.New("rating must be between 0 and 5")

	// ErrMentorHasMentees - смена роли ментора при активных менти.
	ErrMentorHasMentees = errors.New("mentor still has active mentees")
)

// ══════════════════════════════════════════════════════════════════════════════
// MENTOR PROFILE
// ══════════════════════════════════════════════════════════════════════════════

// MentorProfile — поля, которые есть только у менторов.
type MentorProfile struct {
	// ExpertiseCategories - категории экспертизы (множество, нормализовано при создании).
	ExpertiseCategories Set

	// YearsOfExperience - стаж, лет.
	YearsOfExperience int

	// MaxMentees - максимальное число одновременных активных менти.
	MaxMentees int

	// CurrentMentees - денормализованный счётчик активных рёбер.
	CurrentMentees int

	// Rating - рейтинг 0.0 - 5.0.
	Rating float64

	// TotalMenteesEver - исторический, только растущий счётчик.
	TotalMenteesEver int
}

// OpenSlots возвращает число свободных мест (никогда не отрицательное).
func (m MentorProfile) OpenSlots() int {
	if free := m.MaxMentees - m.CurrentMentees; free > 0 {
		return free
	}
	return 0
}

// HasFreeSlot возвращает true, если ментор может принять ещё одного менти.
func (m MentorProfile) HasFreeSlot() bool {
	return m.CurrentMentees < m.MaxMentees
}

// Utilization возвращает долю занятых мест в диапазоне [0, 1].
func (m MentorProfile) Utilization() float64 {
	if m.MaxMentees <= 0 {
		return 1
	}
	u := float64(m.CurrentMentees) / float64(m.MaxMentees)
	if u > 1 {
		return 1
	}
	return u
}

func (m MentorProfile) validate() error {
	if m.MaxMentees < 0 || m.CurrentMentees < 0 || m.YearsOfExperience < 0 || m.TotalMenteesEver < 0 {
		return ErrNegativeCapacity
	}
	if m.CurrentMentees > m.MaxMentees {
		return ErrCapacityOverflow
	}
	if m.Rating < 0 || m.Rating > MaxRating {
		return ErrRatingOutOfRange
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// USER NODE
// ══════════════════════════════════════════════════════════════════════════════

// UserNode — профиль пользователя в графе отношений.
type UserNode struct {
	// UID - уникальный идентификатор.
	UID UserID

	// Type - роль пользователя.
	Type UserType

	// Name - отображаемое имя.
	Name string

	// Bio - биография (отображается выдержкой).
	Bio string

	// Skills - навыки.
	Skills Set

	// Interests - интересы.
	Interests Set

	// IsActive - участвует ли пользователь в подборе.
	IsActive bool

	// Mentor - поля ментора; nil для всех остальных ролей.
	Mentor *MentorProfile

	// CreatedAt, UpdatedAt - временные метки профиля.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUserParams содержит параметры для создания профиля.
type NewUserParams struct {
	UID       string
	Type      UserType
	Name      string
	Bio       string
	Skills    []string
	Interests []string
	IsActive  bool

	// Поля ментора. Игнорируются для остальных ролей.
	ExpertiseCategories []string
	YearsOfExperience   int
	MaxMentees          *int // nil → DefaultMaxMentees
	CurrentMentees      int
	Rating              float64
	TotalMenteesEver    int

	Now time.Time
}

// NewUser создаёт и валидирует профиль. Множества нормализуются здесь и только здесь.
func NewUser(params NewUserParams) (*UserNode, error) {
	uid := UserID(strings.TrimSpace(params.UID))
	if !uid.IsValid() {
		return nil, shared.ErrInvalidUser.With(ErrEmptyUID)
	}
	if !params.Type.IsValid() {
		return nil, shared.ErrInvalidUser.With(fmt.Errorf("%w: %q", ErrUnknownUserType, params.Type))
	}

	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	user := &UserNode{
		UID:       uid,
		Type:      params.Type,
		Name:      strings.TrimSpace(params.Name),
		Bio:       strings.TrimSpace(params.Bio),
		Skills:    NewSet(params.Skills...),
		Interests: NewSet(params.Interests...),
		IsActive:  params.IsActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if params.Type == UserTypeMentor {
		maxMentees := DefaultMaxMentees
		if params.MaxMentees != nil {
			maxMentees = *params.MaxMentees
		}
		profile := &MentorProfile{
			ExpertiseCategories: NewSet(params.ExpertiseCategories...),
			YearsOfExperience:   params.YearsOfExperience,
			MaxMentees:          maxMentees,
			CurrentMentees:      params.CurrentMentees,
			Rating:              params.Rating,
			TotalMenteesEver:    params.TotalMenteesEver,
		}
		if err := profile.validate(); err != nil {
			return nil, shared.ErrInvalidUser.With(err)
		}
		user.Mentor = profile
	}

	return user, nil
}

// IsStudent возвращает true для студентов.
func (u *UserNode) IsStudent() bool {
	return u != nil && u.Type == UserTypeStudent
}

// IsMentor возвращает true для менторов с заполненным профилем ментора.
func (u *UserNode) IsMentor() bool {
	return u != nil && u.Type == UserTypeMentor && u.Mentor != nil
}

// IsEligibleMentor - активный ментор со свободным местом.
func (u *UserNode) IsEligibleMentor() bool {
	return u.IsMentor() && u.IsActive && u.Mentor.HasFreeSlot()
}

// HasExpertise проверяет точное вхождение категории в экспертизу ментора.
func (u *UserNode) HasExpertise(category string) bool {
	return u.IsMentor() && u.Mentor.ExpertiseCategories.Has(category)
}

// Clone возвращает глубокую копию профиля.
// Множества неизменяемы после создания, поэтому копируются по значению.
func (u *UserNode) Clone() *UserNode {
	if u == nil {
		return nil
	}
	c := *u
	if u.Mentor != nil {
		m := *u.Mentor
		c.Mentor = &m
	}
	return &c
}

// CheckReimport проверяет повторный импорт профиля поверх сохранённого.
// next уже несёт счётчики, перенесённые из prev; active - число активных
// рёбер пользователя как ментора. Хранилища вызывают её под блокировкой ментора.
func CheckReimport(prev, next *UserNode, active int) error {
	if prev.IsMentor() && !next.IsMentor() && active > 0 {
		return shared.ErrInvalidUser.With(fmt.Errorf("uid %s: %w (%d active), terminate them first",
			next.UID, ErrMentorHasMentees, active))
	}
	if next.IsMentor() && next.Mentor.CurrentMentees > next.Mentor.MaxMentees {
		return shared.ErrInvalidUser.With(fmt.Errorf("uid %s: max_mentees %d is below current_mentees %d: %w",
			next.UID, next.Mentor.MaxMentees, next.Mentor.CurrentMentees, ErrCapacityOverflow))
	}
	return nil
}

// Summary возвращает краткую карточку профиля для списков.
func (u *UserNode) Summary() ProfileSummary {
	s := ProfileSummary{
		UID:        u.UID,
		Type:       u.Type,
		Name:       u.Name,
		BioExcerpt: Excerpt(u.Bio, bioExcerptRunes),
		Skills:     u.Skills.Values(),
		Interests:  u.Interests.Values(),
	}
	if u.IsMentor() {
		slots := u.Mentor.OpenSlots()
		s.OpenSlots = &slots
		s.ExpertiseCategories = u.Mentor.ExpertiseCategories.Values()
	}
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE SUMMARY
// ══════════════════════════════════════════════════════════════════════════════

// ProfileSummary — карточка собеседника в списках запросов и кандидатов.
type ProfileSummary struct {
	UID                 UserID   `json:"uid"`
	Type                UserType `json:"type"`
	Name                string   `json:"name"`
	BioExcerpt          string   `json:"bio_excerpt,omitempty"`
	Skills              []string `json:"skills"`
	Interests           []string `json:"interests"`
	ExpertiseCategories []string `json:"expertise_categories,omitempty"`
	OpenSlots           *int     `json:"open_slots,omitempty"`
	Unknown             bool     `json:"unknown,omitempty"`
}

// UnknownSummary - заглушка для собеседника, профиль которого больше не найден.
func UnknownSummary(uid UserID) ProfileSummary {
	return ProfileSummary{
		UID:       uid,
		Name:      "unknown user",
		Skills:    []string{},
		Interests: []string{},
		Unknown:   true,
	}
}

// Excerpt обрезает текст до limit рун по границе слова и добавляет многоточие.
func Excerpt(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:limit])
	if i := strings.LastIndexAny(cut, " \t\n"); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \t\n.,;:") + "…"
}
