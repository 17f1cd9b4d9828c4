package mentorship

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mentorWith(t *testing.T, uid string, skills, expertise []string, rating float64, slots, current int) *UserNode {
	t.Helper()
	u, err := NewUser(NewUserParams{
		UID:                 uid,
		Type:                UserTypeMentor,
		Skills:              skills,
		ExpertiseCategories: expertise,
		IsActive:            true,
		MaxMentees:          &slots,
		CurrentMentees:      current,
		Rating:              rating,
	})
	require.NoError(t, err)
	return u
}

func studentWith(t *testing.T, uid string, skills, interests []string) *UserNode {
	t.Helper()
	u, err := NewUser(NewUserParams{UID: uid, Type: UserTypeStudent, Skills: skills, Interests: interests, IsActive: true})
	require.NoError(t, err)
	return u
}

func TestScoreWeights_Validate(t *testing.T) {
	assert.NoError(t, DefaultScoreWeights().Validate())

	err := ScoreWeights{Overlap: 0.5, Capacity: 0.2, Rating: 0.5}.Validate()
	require.Error(t, err)
	// rating out of range, rating dominates overlap, sum != 1
	assert.Contains(t, err.Error(), "3 errors occurred")

	_, err = NewScorer(ScoreWeights{Overlap: 0.9, Capacity: 0.1, Rating: 0})
	assert.Error(t, err)
}

func TestScorer_OverlapFormula(t *testing.T) {
	s := DefaultScorer()
	student := studentWith(t, "s1", []string{"go", "sql"}, []string{"backend", "devops"})
	mentor := mentorWith(t, "m1", []string{"go"}, []string{"backend"}, 0, 4, 4)

	b := s.Breakdown(student, mentor)

	assert.Equal(t, []string{"go"}, b.SharedSkills)
	assert.Equal(t, []string{"backend"}, b.SharedCategories)
	assert.InDelta(t, 0.5, b.OverlapRatio, 1e-9)
	assert.InDelta(t, 0.0, b.CapacityRatio, 1e-9)
	assert.InDelta(t, 0.70*0.5, b.Total, 1e-9)
}

func TestScorer_EmptyStudentDoesNotDivideByZero(t *testing.T) {
	s := DefaultScorer()
	student := studentWith(t, "s1", nil, nil)
	mentor := mentorWith(t, "m1", []string{"go"}, nil, 5, 2, 0)

	score := s.Score(student, mentor)

	assert.InDelta(t, 0.15+0.15, score, 1e-9)
}

func TestScorer_RatingIsMinorityContribution(t *testing.T) {
	s := DefaultScorer()
	student := studentWith(t, "s1", []string{"go"}, nil)
	matching := mentorWith(t, "m1", []string{"go"}, nil, 0, 3, 0)
	famous := mentorWith(t, "m2", []string{"java"}, nil, 5, 3, 0)

	assert.Greater(t, s.Score(student, matching), s.Score(student, famous))
}

// Scenario D: overlap decides the order when rating and capacity are equal.
func TestScorer_RankPrefersOverlap(t *testing.T) {
	s := DefaultScorer()
	student := studentWith(t, "s1", []string{"python", "ml"}, nil)
	expert := []string{"python", "ml", "leadership"}
	ml := mentorWith(t, "m-ml", expert, expert, 4, 3, 1)
	marketing := mentorWith(t, "a-marketing", []string{"marketing"}, []string{"marketing"}, 4, 3, 1)

	ranking := s.Rank(student, []*UserNode{marketing, ml})

	top := ranking.Top(2)
	require.Len(t, top, 2)
	assert.Equal(t, UserID("m-ml"), top[0].Mentor.UID)
	assert.Equal(t, UserID("a-marketing"), top[1].Mentor.UID)
}

func TestScorer_RankTieBreaks(t *testing.T) {
	s := DefaultScorer()
	student := studentWith(t, "s1", []string{"go"}, nil)
	// same capacity ratio (1/2) with different loads
	busy := mentorWith(t, "a", []string{"go"}, nil, 3, 4, 2)
	idle := mentorWith(t, "z", []string{"go"}, nil, 3, 2, 1)
	twinA := mentorWith(t, "b", []string{"go"}, nil, 3, 2, 1)

	ranking := s.Rank(student, []*UserNode{busy, idle, twinA})

	var order []UserID
	for item := range ranking.All() {
		order = append(order, item.Mentor.UID)
	}
	assert.Equal(t, []UserID{"b", "z", "a"}, order)
}

func TestRanking_IsRestartable(t *testing.T) {
	s := DefaultScorer()
	student := studentWith(t, "s1", []string{"go"}, nil)
	ranking := s.Rank(student, []*UserNode{
		mentorWith(t, "m1", []string{"go"}, nil, 1, 3, 0),
		mentorWith(t, "m2", nil, nil, 1, 3, 0),
	})

	first := 0
	for range ranking.All() {
		first++
		break
	}
	second := 0
	for range ranking.All() {
		second++
	}

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestRanking_NextAndWithout(t *testing.T) {
	s := DefaultScorer()
	student := studentWith(t, "s1", []string{"go", "sql"}, nil)
	ranking := s.Rank(student, []*UserNode{
		mentorWith(t, "m1", []string{"go", "sql"}, nil, 1, 3, 0),
		mentorWith(t, "m2", []string{"go"}, nil, 1, 3, 0),
		mentorWith(t, "m3", nil, nil, 1, 3, 0),
	})

	next, ok := ranking.Next("m1")
	require.True(t, ok)
	assert.Equal(t, UserID("m2"), next.Mentor.UID)

	_, ok = ranking.Next("m3")
	assert.False(t, ok)

	next, ok = ranking.Next("gone")
	require.True(t, ok)
	assert.Equal(t, UserID("m1"), next.Mentor.UID)

	assert.Equal(t, 2, ranking.Without("m2").Len())
	assert.Equal(t, 3, ranking.Len())
}
