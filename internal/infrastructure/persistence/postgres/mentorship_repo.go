package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RELATIONSHIPS
// ══════════════════════════════════════════════════════════════════════════════

const edgeColumns = `id, student_uid, mentor_uid, status, start_date, goals, notes,
	last_decision_at, ended_at, end_reason, updated_at`

const edgeSelect = `id::text, student_uid, mentor_uid, status, start_date, goals, notes,
	last_decision_at, ended_at, end_reason, updated_at`

// currentEdgeSQL selects the open edge of a pair, or else the most recently
// started terminal one.
const currentEdgeSQL = `SELECT ` + edgeSelect + ` FROM mentorship_edges
	WHERE student_uid = $1 AND mentor_uid = $2
	ORDER BY (status IN ('pending', 'active')) DESC, start_date DESC, id DESC
	LIMIT 1`

// GetEdge returns the current edge of a pair.
func (s *Store) GetEdge(ctx context.Context, key mentorship.PairKey) (*mentorship.Edge, error) {
	e, err := scanEdge(s.conn.QueryRow(ctx, currentEdgeSQL, key.Student.String(), key.Mentor.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrEdgeNotFound.With(fmt.Errorf("pair %s", key))
		}
		return nil, mapError("get edge", err)
	}
	return e, nil
}

// CreateEdge inserts a pending edge. The mentor row lock orders it against
// transitions of the same mentor; the partial unique index rejects a second
// open edge for the pair.
func (s *Store) CreateEdge(ctx context.Context, edge *mentorship.Edge) error {
	err := s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := lockMentor(ctx, tx, edge.MentorUID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO mentorship_edges (`+edgeColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			edge.ID,
			edge.StudentUID.String(),
			edge.MentorUID.String(),
			edge.Status.String(),
			edge.StartDate,
			nonNil(edge.Goals),
			nonNil(edge.Notes),
			edge.LastDecisionAt,
			edge.EndedAt,
			edge.EndReason,
			edge.UpdatedAt,
		)
		return err
	})
	if IsUniqueViolation(err) {
		return shared.ErrOpenEdgeExists.With(fmt.Errorf("pair %s", edge.Key()))
	}
	return mapError("create edge", err)
}

// TransitionEdge locks the mentor row, loads the pair's current edge and
// applies fn. Both rows are written in the same transaction.
func (s *Store) TransitionEdge(ctx context.Context, key mentorship.PairKey, fn mentorship.TransitionFunc) (*mentorship.Edge, *mentorship.UserNode, error) {
	var (
		edge   *mentorship.Edge
		mentor *mentorship.UserNode
	)
	err := s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		var err error
		if mentor, err = lockMentor(ctx, tx, key.Mentor); err != nil {
			return err
		}

		edge, err = scanEdge(tx.QueryRow(ctx, currentEdgeSQL+` FOR UPDATE`, key.Student.String(), key.Mentor.String()))
		if err != nil {
			if IsNoRows(err) {
				return shared.ErrEdgeNotFound.With(fmt.Errorf("pair %s", key))
			}
			return err
		}
		if mentor == nil {
			return shared.ErrMentorNotFound.With(fmt.Errorf("uid %s", key.Mentor))
		}

		if err := fn(edge, mentor); err != nil {
			return err
		}

		if err := updateEdge(ctx, tx, edge); err != nil {
			return err
		}
		return updateCounters(ctx, tx, mentor)
	})
	if err != nil {
		if IsCheckViolation(err) {
			// the counter constraint caught a transition the domain should have refused
			return nil, nil, shared.ErrMentorAtCapacity.With(err)
		}
		return nil, nil, mapError("transition edge", err)
	}
	return edge, mentor, nil
}

// ListPending returns pending edges for one side, oldest first.
func (s *Store) ListPending(ctx context.Context, filter mentorship.PendingFilter) ([]*mentorship.Edge, error) {
	column, uid := "student_uid", filter.StudentUID
	if filter.MentorUID != "" {
		column, uid = "mentor_uid", filter.MentorUID
	}

	rows, err := s.conn.Query(ctx, `SELECT `+edgeSelect+` FROM mentorship_edges
		WHERE status = 'pending' AND `+column+` = $1
		ORDER BY start_date, id`, uid.String())
	if err != nil {
		return nil, mapError("list pending", err)
	}
	defer rows.Close()

	out := make([]*mentorship.Edge, 0)
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, mapError("list pending", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list pending", err)
	}
	return out, nil
}

// CountActive counts active edges of a mentor.
func (s *Store) CountActive(ctx context.Context, mentor mentorship.UserID) (int, error) {
	n, err := countActive(ctx, s.conn.Pool(), mentor)
	if err != nil {
		return 0, mapError("count active", err)
	}
	return n, nil
}

// RepairMentor locks the mentor row, counts its active edges and lets fn
// decide whether to rewrite the counter.
func (s *Store) RepairMentor(ctx context.Context, uid mentorship.UserID, fn mentorship.RepairFunc) (*mentorship.UserNode, error) {
	var mentor *mentorship.UserNode
	err := s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		var err error
		if mentor, err = lockMentor(ctx, tx, uid); err != nil {
			return err
		}
		if !mentor.IsMentor() {
			return shared.ErrMentorNotFound.With(fmt.Errorf("uid %s", uid))
		}

		active, err := countActive(ctx, tx, uid)
		if err != nil {
			return err
		}
		changed, err := fn(mentor, active)
		if err != nil || !changed {
			return err
		}
		return updateCounters(ctx, tx, mentor)
	})
	if err != nil {
		return nil, mapError("repair mentor", err)
	}
	return mentor, nil
}

func countActive(ctx context.Context, q Querier, mentor mentorship.UserID) (int, error) {
	var n int
	err := q.QueryRow(ctx,
		`SELECT count(*) FROM mentorship_edges WHERE mentor_uid = $1 AND status = 'active'`,
		mentor.String()).Scan(&n)
	return n, err
}

func updateEdge(ctx context.Context, q Querier, e *mentorship.Edge) error {
	_, err := q.Exec(ctx, `
		UPDATE mentorship_edges SET
			status = $2,
			goals = $3,
			notes = $4,
			last_decision_at = $5,
			ended_at = $6,
			end_reason = $7,
			updated_at = $8
		WHERE id = $1`,
		e.ID,
		e.Status.String(),
		nonNil(e.Goals),
		nonNil(e.Notes),
		e.LastDecisionAt,
		e.EndedAt,
		e.EndReason,
		e.UpdatedAt,
	)
	return err
}

// updateCounters writes only the fields the lifecycle owns.
func updateCounters(ctx context.Context, q Querier, m *mentorship.UserNode) error {
	if !m.IsMentor() {
		return nil
	}
	_, err := q.Exec(ctx, `
		UPDATE users SET current_mentees = $2, total_mentees_ever = $3, updated_at = $4
		WHERE uid = $1`,
		m.UID.String(), m.Mentor.CurrentMentees, m.Mentor.TotalMenteesEver, m.UpdatedAt)
	return err
}

func scanEdge(row pgx.Row) (*mentorship.Edge, error) {
	var (
		e                       mentorship.Edge
		student, mentor, status string
		lastDecision, endedAt   *time.Time
	)
	err := row.Scan(
		&e.ID, &student, &mentor, &status, &e.StartDate, &e.Goals, &e.Notes,
		&lastDecision, &endedAt, &e.EndReason, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.Status, err = mentorship.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("edge %s: %w", e.ID, err)
	}
	e.StudentUID = mentorship.UserID(student)
	e.MentorUID = mentorship.UserID(mentor)
	e.StartDate = e.StartDate.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	e.LastDecisionAt = utcPtr(lastDecision)
	e.EndedAt = utcPtr(endedAt)
	e.Goals = nonNil(e.Goals)
	e.Notes = nonNil(e.Notes)
	return &e, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
