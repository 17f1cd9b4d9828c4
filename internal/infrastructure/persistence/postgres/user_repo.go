package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
)

// Static check that Store satisfies the domain contract.
var _ mentorship.Store = (*Store)(nil)

// Store implements mentorship.Store on PostgreSQL.
type Store struct {
	conn *Connection
}

// NewStore creates a store over an open connection.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return mapError("ping", s.conn.Ping(ctx))
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILES
// ══════════════════════════════════════════════════════════════════════════════

const userColumns = `uid, type, name, bio, skills, interests, is_active,
	expertise_categories, years_of_experience, max_mentees, current_mentees,
	rating, total_mentees_ever, created_at, updated_at`

// GetUser returns a profile by uid.
func (s *Store) GetUser(ctx context.Context, uid mentorship.UserID) (*mentorship.UserNode, error) {
	u, err := scanUser(s.conn.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE uid = $1`, uid.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUserNotFound.With(fmt.Errorf("uid %s", uid))
		}
		return nil, mapError("get user", err)
	}
	return u, nil
}

// ListMentors returns mentors matching the filter ordered by uid.
// The WHERE clause mirrors mentorship.MentorFilter.Matches.
func (s *Store) ListMentors(ctx context.Context, filter mentorship.MentorFilter) ([]*mentorship.UserNode, error) {
	var (
		where = []string{"type = 'mentor'"}
		args  []any
	)
	if filter.OnlyEligible {
		where = append(where, "is_active", "current_mentees < max_mentees")
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("$%d = ANY(expertise_categories)", len(args)))
	}

	rows, err := s.conn.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+strings.Join(where, " AND ")+` ORDER BY uid`, args...)
	if err != nil {
		return nil, mapError("list mentors", err)
	}
	defer rows.Close()

	out := make([]*mentorship.UserNode, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapError("list mentors", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list mentors", err)
	}
	return out, nil
}

// SaveUser upserts a profile. The mentee counters of an existing row are
// left untouched; created_at is kept from the first import. The existing row
// is locked so the re-import check sees a stable active edge count.
func (s *Store) SaveUser(ctx context.Context, user *mentorship.UserNode) (*mentorship.UserNode, error) {
	var saved *mentorship.UserNode
	err := s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		prev, err := lockMentor(ctx, tx, user.UID)
		if err != nil {
			return err
		}
		if saved, err = upsertUser(ctx, tx, user); err != nil {
			return err
		}
		if prev == nil {
			return nil
		}
		active, err := countActive(ctx, tx, user.UID)
		if err != nil {
			return err
		}
		return mentorship.CheckReimport(prev, saved, active)
	})
	if err != nil {
		if IsCheckViolation(err) {
			return nil, shared.ErrInvalidUser.With(fmt.Errorf("uid %s: %w", user.UID, err))
		}
		return nil, mapError("save user", err)
	}
	return saved, nil
}

func upsertUser(ctx context.Context, q Querier, user *mentorship.UserNode) (*mentorship.UserNode, error) {
	m := mentorColumns(user)
	return scanUser(q.QueryRow(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (uid) DO UPDATE SET
			type = EXCLUDED.type,
			name = EXCLUDED.name,
			bio = EXCLUDED.bio,
			skills = EXCLUDED.skills,
			interests = EXCLUDED.interests,
			is_active = EXCLUDED.is_active,
			expertise_categories = EXCLUDED.expertise_categories,
			years_of_experience = EXCLUDED.years_of_experience,
			max_mentees = EXCLUDED.max_mentees,
			rating = EXCLUDED.rating,
			updated_at = EXCLUDED.updated_at
		RETURNING `+userColumns,
		user.UID.String(),
		string(user.Type),
		user.Name,
		user.Bio,
		user.Skills.Values(),
		user.Interests.Values(),
		user.IsActive,
		m.ExpertiseCategories.Values(),
		m.YearsOfExperience,
		m.MaxMentees,
		m.CurrentMentees,
		m.Rating,
		m.TotalMenteesEver,
		user.CreatedAt,
		user.UpdatedAt,
	))
}

// mentorColumns returns the mentor part of the row. Other roles store the
// column defaults.
func mentorColumns(u *mentorship.UserNode) mentorship.MentorProfile {
	if u.Mentor != nil {
		return *u.Mentor
	}
	return mentorship.MentorProfile{MaxMentees: mentorship.DefaultMaxMentees}
}

// lockMentor takes the row lock that serializes every write touching the
// mentor's counter or edges. It returns nil when no such user exists.
func lockMentor(ctx context.Context, q Querier, uid mentorship.UserID) (*mentorship.UserNode, error) {
	u, err := scanUser(q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE uid = $1 FOR UPDATE`, uid.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func scanUser(row pgx.Row) (*mentorship.UserNode, error) {
	var (
		u                                     mentorship.UserNode
		uid, typ                              string
		skills, interests, expertise          []string
		years, maxMentees, current, everTotal int
		rating                                float64
	)
	err := row.Scan(
		&uid, &typ, &u.Name, &u.Bio, &skills, &interests, &u.IsActive,
		&expertise, &years, &maxMentees, &current, &rating, &everTotal,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.UID = mentorship.UserID(uid)
	u.Type = mentorship.UserType(typ)
	u.Skills = mentorship.NewSet(skills...)
	u.Interests = mentorship.NewSet(interests...)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	if u.Type == mentorship.UserTypeMentor {
		u.Mentor = &mentorship.MentorProfile{
			ExpertiseCategories: mentorship.NewSet(expertise...),
			YearsOfExperience:   years,
			MaxMentees:          maxMentees,
			CurrentMentees:      current,
			Rating:              rating,
			TotalMenteesEver:    everTotal,
		}
	}
	return &u, nil
}
