package mentorship

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// FILTERS
// ══════════════════════════════════════════════════════════════════════════════

// MentorFilter ограничивает выборку менторов.
type MentorFilter struct {
	// OnlyEligible - только активные менторы со свободным местом.
	OnlyEligible bool

	// Category - точное вхождение в ExpertiseCategories (пусто = без фильтра).
	Category string
}

// Matches проверяет профиль против фильтра. Хранилища с собственным языком
// запросов обязаны давать тот же результат.
func (f MentorFilter) Matches(u *UserNode) bool {
	if !u.IsMentor() {
		return false
	}
	if f.OnlyEligible && !u.IsEligibleMentor() {
		return false
	}
	if f.Category != "" && !u.HasExpertise(f.Category) {
		return false
	}
	return true
}

// PendingFilter выбирает очередь запросов одной из сторон.
// Должно быть задано ровно одно поле.
type PendingFilter struct {
	MentorUID  UserID
	StudentUID UserID
}

// PendingForMentor - очередь входящих запросов ментора.
func PendingForMentor(uid UserID) PendingFilter {
	return PendingFilter{MentorUID: uid}
}

// PendingForStudent - исходящие запросы студента.
func PendingForStudent(uid UserID) PendingFilter {
	return PendingFilter{StudentUID: uid}
}

// Matches проверяет ребро против фильтра.
func (f PendingFilter) Matches(e *Edge) bool {
	if e.Status != StatusPending {
		return false
	}
	if f.MentorUID != "" {
		return e.MentorUID == f.MentorUID
	}
	return e.StudentUID == f.StudentUID
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE CONTRACTS
// ══════════════════════════════════════════════════════════════════════════════

// TransitionFunc изменяет копии ребра и профиля ментора внутри атомарной операции.
// Возврат ошибки отменяет запись. Функция должна быть детерминированной:
// драйверы графовых БД могут повторить её при временных сбоях.
type TransitionFunc func(edge *Edge, mentor *UserNode) error

// RepairFunc получает профиль ментора и фактическое число active рёбер.
// Возврат true сохраняет изменённый профиль.
type RepairFunc func(mentor *UserNode, activeEdges int) (bool, error)

// ProfileStore - доступ к профилям пользователей.
type ProfileStore interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Чтение
	// ─────────────────────────────────────────────────────────────────────────

	// GetUser возвращает профиль по uid.
	// Возвращает shared.ErrUserNotFound, если профиля нет.
	GetUser(ctx context.Context, uid UserID) (*UserNode, error)

	// ListMentors возвращает менторов, подходящих под фильтр, в порядке uid.
	ListMentors(ctx context.Context, filter MentorFilter) ([]*UserNode, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Запись
	// ─────────────────────────────────────────────────────────────────────────

	// SaveUser создаёт или обновляет профиль (импорт).
	// У существующего ментора CurrentMentees и TotalMenteesEver не перезаписываются:
	// их единственный писатель - менеджер жизненного цикла.
	SaveUser(ctx context.Context, user *UserNode) (*UserNode, error)
}

// RelationshipStore - рёбра отношений и атомарные переходы.
type RelationshipStore interface {
	// GetEdge возвращает текущее ребро пары: открытое, если есть,
	// иначе последнее терминальное.
	// Возвращает shared.ErrEdgeNotFound, если у пары нет ни одного ребра.
	GetEdge(ctx context.Context, key PairKey) (*Edge, error)

	// CreateEdge атомарно создаёт pending ребро.
	// Возвращает shared.ErrOpenEdgeExists, если у пары уже есть pending или active ребро.
	// Сериализуется с другими записями по тому же ментору.
	CreateEdge(ctx context.Context, edge *Edge) error

	// TransitionEdge - атомарное чтение-изменение-запись текущего ребра пары
	// и профиля ментора. Хранилище блокирует ментора, загружает ребро и профиль,
	// вызывает fn и сохраняет оба объекта, только если fn вернула nil.
	// Возвращает shared.ErrEdgeNotFound, если у пары нет рёбер.
	TransitionEdge(ctx context.Context, key PairKey, fn TransitionFunc) (*Edge, *UserNode, error)

	// ListPending возвращает pending рёбра в порядке StartDate по возрастанию.
	ListPending(ctx context.Context, filter PendingFilter) ([]*Edge, error)

	// CountActive возвращает число active рёбер ментора.
	CountActive(ctx context.Context, mentor UserID) (int, error)

	// RepairMentor блокирует ментора, считает active рёбра и вызывает fn.
	// Используется аудитом ёмкости.
	RepairMentor(ctx context.Context, mentor UserID, fn RepairFunc) (*UserNode, error)
}

// Store объединяет оба контракта: профили и рёбра живут в одном хранилище,
// поэтому переходы могут атомарно менять и ребро, и счётчик ментора.
type Store interface {
	ProfileStore
	RelationshipStore

	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
}
