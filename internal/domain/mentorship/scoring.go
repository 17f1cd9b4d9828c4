package mentorship

import (
	"fmt"
	"iter"
	"math"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEIGHTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// MinRatingWeight, MaxRatingWeight - допустимая доля рейтинга в итоговой оценке.
	MinRatingWeight = 0.10
	MaxRatingWeight = 0.20

	scoreEpsilon = 1e-9
)

// ScoreWeights определяет вклад каждого фактора в оценку совместимости.
type ScoreWeights struct {
	// Overlap - пересечение навыков и интересов (основной фактор).
	Overlap float64

	// Capacity - бонус за свободные места (распределяет нагрузку).
	Capacity float64

	// Rating - рейтинг ментора (меньшинство, 10–20%).
	Rating float64
}

// DefaultScoreWeights возвращает веса по умолчанию.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Overlap:  0.70,
		Capacity: 0.15,
		Rating:   0.15,
	}
}

// Validate проверяет веса и возвращает все найденные проблемы сразу.
func (w ScoreWeights) Validate() error {
	var err error
	if w.Overlap < 0 || w.Capacity < 0 || w.Rating < 0 {
		err = multierror.Append(err, fmt.Errorf("weights must be non-negative"))
	}
	if w.Rating < MinRatingWeight || w.Rating > MaxRatingWeight {
		err = multierror.Append(err, fmt.Errorf("rating weight %.2f outside [%.2f, %.2f]",
			w.Rating, MinRatingWeight, MaxRatingWeight))
	}
	if w.Overlap <= w.Rating {
		err = multierror.Append(err, fmt.Errorf("overlap weight must dominate rating weight"))
	}
	if sum := w.Overlap + w.Capacity + w.Rating; math.Abs(sum-1) > 1e-6 {
		err = multierror.Append(err, fmt.Errorf("weights must sum to 1, got %.4f", sum))
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORER
// ══════════════════════════════════════════════════════════════════════════════

// ScoreBreakdown объясняет, из чего сложилась оценка.
type ScoreBreakdown struct {
	SharedSkills     []string `json:"shared_skills"`
	SharedCategories []string `json:"shared_categories"`
	OverlapRatio     float64  `json:"overlap_ratio"`
	CapacityRatio    float64  `json:"capacity_ratio"`
	RatingRatio      float64  `json:"rating_ratio"`
	Total            float64  `json:"total"`
}

// Scorer вычисляет совместимость студента и ментора.
// Чистая функция: без побочных эффектов, безопасна для конкурентного вызова.
type Scorer struct {
	weights ScoreWeights
}

// NewScorer создаёт Scorer с проверенными весами.
func NewScorer(weights ScoreWeights) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid score weights: %w", err)
	}
	return &Scorer{weights: weights}, nil
}

// DefaultScorer возвращает Scorer с весами по умолчанию.
func DefaultScorer() *Scorer {
	return &Scorer{weights: DefaultScoreWeights()}
}

// Weights возвращает используемые веса.
func (s *Scorer) Weights() ScoreWeights {
	return s.weights
}

// Score возвращает оценку совместимости в диапазоне [0, 1].
func (s *Scorer) Score(student, mentor *UserNode) float64 {
	return s.Breakdown(student, mentor).Total
}

// Breakdown считает оценку и её составляющие.
//
//	overlap  = |S.skills ∩ M.skills| + |S.interests ∩ M.expertise|
//	ratio    = overlap / max(1, |S.skills| + |S.interests|)
//	capacity = openSlots / maxMentees
//	rating   = rating / 5
func (s *Scorer) Breakdown(student, mentor *UserNode) ScoreBreakdown {
	var b ScoreBreakdown
	if student == nil || mentor == nil {
		b.SharedSkills, b.SharedCategories = []string{}, []string{}
		return b
	}

	var expertise Set
	if mentor.Mentor != nil {
		expertise = mentor.Mentor.ExpertiseCategories
	}
	b.SharedSkills = student.Skills.Intersection(mentor.Skills)
	b.SharedCategories = student.Interests.Intersection(expertise)

	overlap := len(b.SharedSkills) + len(b.SharedCategories)
	denominator := student.Skills.Len() + student.Interests.Len()
	if denominator < 1 {
		denominator = 1
	}
	b.OverlapRatio = float64(overlap) / float64(denominator)

	if mentor.Mentor != nil {
		if mentor.Mentor.MaxMentees > 0 {
			b.CapacityRatio = float64(mentor.Mentor.OpenSlots()) / float64(mentor.Mentor.MaxMentees)
		}
		b.RatingRatio = clamp01(mentor.Mentor.Rating / MaxRating)
	}

	b.Total = s.weights.Overlap*b.OverlapRatio +
		s.weights.Capacity*b.CapacityRatio +
		s.weights.Rating*b.RatingRatio
	return b
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING
// ══════════════════════════════════════════════════════════════════════════════

// ScoredMentor — ментор с рассчитанной оценкой.
type ScoredMentor struct {
	Mentor    *UserNode
	Score     float64
	Breakdown ScoreBreakdown
}

// Ranking — конечная упорядоченная последовательность кандидатов.
// Её можно обходить повторно: каждый вызов All начинает с начала.
type Ranking struct {
	items []ScoredMentor
}

// Rank оценивает менторов и упорядочивает их: оценка по убыванию,
// затем меньшая загрузка (CurrentMentees), затем uid.
func (s *Scorer) Rank(student *UserNode, mentors []*UserNode) Ranking {
	items := make([]ScoredMentor, 0, len(mentors))
	for _, m := range mentors {
		if m == nil {
			continue
		}
		b := s.Breakdown(student, m)
		items = append(items, ScoredMentor{Mentor: m, Score: b.Total, Breakdown: b})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return rankedBefore(items[i], items[j])
	})
	return Ranking{items: items}
}

func rankedBefore(a, b ScoredMentor) bool {
	if math.Abs(a.Score-b.Score) > scoreEpsilon {
		return a.Score > b.Score
	}
	ca, cb := currentMentees(a.Mentor), currentMentees(b.Mentor)
	if ca != cb {
		return ca < cb
	}
	return a.Mentor.UID < b.Mentor.UID
}

// All возвращает ленивый итератор по кандидатам в порядке ранжирования.
func (r Ranking) All() iter.Seq[ScoredMentor] {
	return func(yield func(ScoredMentor) bool) {
		for _, item := range r.items {
			if !yield(item) {
				return
			}
		}
	}
}

// Len возвращает число кандидатов.
func (r Ranking) Len() int {
	return len(r.items)
}

// Top возвращает первые n кандидатов (копию).
func (r Ranking) Top(n int) []ScoredMentor {
	if n < 0 || n > len(r.items) {
		n = len(r.items)
	}
	out := make([]ScoredMentor, n)
	copy(out, r.items[:n])
	return out
}

// Without возвращает ранжирование без указанных менторов.
func (r Ranking) Without(uids ...UserID) Ranking {
	if len(uids) == 0 {
		return r
	}
	skip := make(map[UserID]struct{}, len(uids))
	for _, uid := range uids {
		skip[uid] = struct{}{}
	}
	items := make([]ScoredMentor, 0, len(r.items))
	for _, item := range r.items {
		if _, ok := skip[item.Mentor.UID]; !ok {
			items = append(items, item)
		}
	}
	return Ranking{items: items}
}

// Next возвращает кандидата, идущего сразу за uid. Если uid не найден,
// возвращается первый кандидат, отличный от uid.
func (r Ranking) Next(after UserID) (ScoredMentor, bool) {
	for i, item := range r.items {
		if item.Mentor.UID == after {
			if i+1 < len(r.items) {
				return r.items[i+1], true
			}
			return ScoredMentor{}, false
		}
	}
	for _, item := range r.items {
		if item.Mentor.UID != after {
			return item, true
		}
	}
	return ScoredMentor{}, false
}

func currentMentees(u *UserNode) int {
	if u == nil || u.Mentor == nil {
		return 0
	}
	return u.Mentor.CurrentMentees
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
