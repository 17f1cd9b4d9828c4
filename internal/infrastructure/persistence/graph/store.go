package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
)

// Static check that Store satisfies the domain contract.
var _ mentorship.Store = (*Store)(nil)

// Store implements mentorship.Store on a Neo4j client.
type Store struct {
	client *Client
}

// NewStore creates a store.
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return mapError("ping", s.client.VerifyConnectivity(ctx))
}

// ══════════════════════════════════════════════════════════════════════════════
// CYPHER
// ══════════════════════════════════════════════════════════════════════════════

const (
	// Nodes created only as edge endpoints carry no type and are not profiles.
	getUserCypher = `MATCH (u:User {uid: $uid}) WHERE u.type IS NOT NULL RETURN u`

	listMentorsCypher = `
MATCH (u:User {type: 'mentor'})
WHERE ($eligible = false OR (u.is_active AND u.current_mentees < u.max_mentees))
  AND ($category = '' OR $category IN u.expertise_categories)
RETURN u ORDER BY u.uid`

	saveUserCypher = `
MERGE (u:User {uid: $uid})
SET u.type = $type,
    u.name = $name,
    u.bio = $bio,
    u.skills = $skills,
    u.interests = $interests,
    u.is_active = $is_active,
    u.expertise_categories = $expertise_categories,
    u.years_of_experience = $years_of_experience,
    u.max_mentees = $max_mentees,
    u.rating = $rating,
    u.updated_at = $updated_at,
    u.current_mentees = coalesce(u.current_mentees, $current_mentees),
    u.total_mentees_ever = coalesce(u.total_mentees_ever, $total_mentees_ever),
    u.created_at = coalesce(u.created_at, $created_at),
    u.lock_version = coalesce(u.lock_version, 0)
RETURN u`

	// lockMentorCypher writes to the mentor node first so the transaction
	// holds its write lock until commit.
	lockMentorCypher = `
MATCH (m:User {uid: $mentor})
SET m.lock_version = coalesce(m.lock_version, 0) + 1
RETURN m`

	// Requests may name a mentor node that does not exist yet; the
	// uniqueness constraint on uid serializes concurrent MERGEs.
	lockOrCreateMentorCypher = `
MERGE (m:User {uid: $mentor})
SET m.lock_version = coalesce(m.lock_version, 0) + 1
RETURN m`

	currentEdgeCypher = `
MATCH (:User {uid: $student})-[r:MENTORSHIP]->(:User {uid: $mentor})
RETURN r, $student AS student, $mentor AS mentor
ORDER BY CASE WHEN r.status IN ['pending', 'active'] THEN 0 ELSE 1 END, r.start_date DESC, r.id DESC
LIMIT 1`

	createEdgeCypher = `
MERGE (s:User {uid: $student})
MERGE (m:User {uid: $mentor})
CREATE (s)-[r:MENTORSHIP {
    id: $id,
    status: $status,
    start_date: $start_date,
    goals: $goals,
    notes: $notes,
    end_reason: '',
    updated_at: $updated_at
}]->(m)
RETURN r.id AS id`

	updateEdgeCypher = `
MATCH ()-[r:MENTORSHIP {id: $id}]->()
SET r.status = $status,
    r.goals = $goals,
    r.notes = $notes,
    r.last_decision_at = $last_decision_at,
    r.ended_at = $ended_at,
    r.end_reason = $end_reason,
    r.updated_at = $updated_at`

	updateCountersCypher = `
MATCH (m:User {uid: $uid})
SET m.current_mentees = $current_mentees,
    m.total_mentees_ever = $total_mentees_ever,
    m.updated_at = $updated_at`

	listPendingByMentorCypher = `
MATCH (s:User)-[r:MENTORSHIP {status: 'pending'}]->(m:User {uid: $uid})
RETURN r, s.uid AS student, m.uid AS mentor
ORDER BY r.start_date, r.id`

	listPendingByStudentCypher = `
MATCH (s:User {uid: $uid})-[r:MENTORSHIP {status: 'pending'}]->(m:User)
RETURN r, s.uid AS student, m.uid AS mentor
ORDER BY r.start_date, r.id`

	countActiveCypher = `
MATCH (:User)-[r:MENTORSHIP {status: 'active'}]->(:User {uid: $uid})
RETURN count(r) AS active`
)

// ══════════════════════════════════════════════════════════════════════════════
// PROFILES
// ══════════════════════════════════════════════════════════════════════════════

// GetUser returns a profile by uid.
func (s *Store) GetUser(ctx context.Context, uid mentorship.UserID) (*mentorship.UserNode, error) {
	records, err := s.client.read(ctx, getUserCypher, map[string]any{"uid": uid.String()})
	if err != nil {
		return nil, mapError("get user", err)
	}
	if len(records) == 0 {
		return nil, shared.ErrUserNotFound.With(fmt.Errorf("uid %s", uid))
	}
	return userFromRecord(records[0], "u")
}

// ListMentors returns mentors matching the filter ordered by uid.
func (s *Store) ListMentors(ctx context.Context, filter mentorship.MentorFilter) ([]*mentorship.UserNode, error) {
	records, err := s.client.read(ctx, listMentorsCypher, map[string]any{
		"eligible": filter.OnlyEligible,
		"category": filter.Category,
	})
	if err != nil {
		return nil, mapError("list mentors", err)
	}

	out := make([]*mentorship.UserNode, 0, len(records))
	for _, rec := range records {
		u, err := userFromRecord(rec, "u")
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// SaveUser upserts a profile. Counters already on the node are kept, and the
// existing node is locked so the re-import check sees a stable edge count.
func (s *Store) SaveUser(ctx context.Context, user *mentorship.UserNode) (*mentorship.UserNode, error) {
	session := s.client.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	saved, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		prev, err := lockMentor(ctx, tx, user.UID)
		if err != nil {
			return nil, err
		}
		rec, err := single(ctx, tx, saveUserCypher, userParams(user))
		if err != nil {
			return nil, err
		}
		u, err := userFromRecord(rec, "u")
		if err != nil {
			return nil, err
		}
		if prev != nil {
			active, err := single(ctx, tx, countActiveCypher, map[string]any{"uid": user.UID.String()})
			if err != nil {
				return nil, err
			}
			if err := mentorship.CheckReimport(prev, u, recordInt(active, "active")); err != nil {
				return nil, err
			}
		}
		return u, nil
	})
	if err != nil {
		return nil, mapError("save user", err)
	}
	return saved.(*mentorship.UserNode), nil
}

func userParams(u *mentorship.UserNode) map[string]any {
	m := mentorship.MentorProfile{MaxMentees: mentorship.DefaultMaxMentees}
	if u.Mentor != nil {
		m = *u.Mentor
	}
	return map[string]any{
		"uid":                  u.UID.String(),
		"type":                 string(u.Type),
		"name":                 u.Name,
		"bio":                  u.Bio,
		"skills":               u.Skills.Values(),
		"interests":            u.Interests.Values(),
		"is_active":            u.IsActive,
		"expertise_categories": m.ExpertiseCategories.Values(),
		"years_of_experience":  int64(m.YearsOfExperience),
		"max_mentees":          int64(m.MaxMentees),
		"current_mentees":      int64(m.CurrentMentees),
		"rating":               m.Rating,
		"total_mentees_ever":   int64(m.TotalMenteesEver),
		"created_at":           u.CreatedAt.UTC(),
		"updated_at":           u.UpdatedAt.UTC(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RELATIONSHIPS
// ══════════════════════════════════════════════════════════════════════════════

// GetEdge returns the current edge of a pair.
func (s *Store) GetEdge(ctx context.Context, key mentorship.PairKey) (*mentorship.Edge, error) {
	records, err := s.client.read(ctx, currentEdgeCypher, pairParams(key))
	if err != nil {
		return nil, mapError("get edge", err)
	}
	if len(records) == 0 {
		return nil, shared.ErrEdgeNotFound.With(fmt.Errorf("pair %s", key))
	}
	return edgeFromRecord(records[0])
}

// CreateEdge inserts a pending edge under the mentor lock.
func (s *Store) CreateEdge(ctx context.Context, edge *mentorship.Edge) error {
	session := s.client.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	key := edge.Key()
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := collect(ctx, tx, lockOrCreateMentorCypher, map[string]any{"mentor": key.Mentor.String()}); err != nil {
			return nil, err
		}
		current, err := currentEdge(ctx, tx, key)
		if err != nil {
			return nil, err
		}
		if current != nil && current.Status.IsOpen() {
			return nil, shared.ErrOpenEdgeExists.With(fmt.Errorf("pair %s is %s", key, current.Status))
		}
		_, err = single(ctx, tx, createEdgeCypher, map[string]any{
			"student":    key.Student.String(),
			"mentor":     key.Mentor.String(),
			"id":         edge.ID,
			"status":     edge.Status.String(),
			"start_date": edge.StartDate.UTC(),
			"goals":      nonNil(edge.Goals),
			"notes":      nonNil(edge.Notes),
			"updated_at": edge.UpdatedAt.UTC(),
		})
		return nil, err
	})
	return mapError("create edge", err)
}

// TransitionEdge locks the mentor, loads the pair's current edge and applies
// fn. The driver may re-run the whole function on transient errors, so fn
// always sees freshly loaded copies.
func (s *Store) TransitionEdge(ctx context.Context, key mentorship.PairKey, fn mentorship.TransitionFunc) (*mentorship.Edge, *mentorship.UserNode, error) {
	session := s.client.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	type transitioned struct {
		edge   *mentorship.Edge
		mentor *mentorship.UserNode
	}

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		mentor, err := lockMentor(ctx, tx, key.Mentor)
		if err != nil {
			return nil, err
		}
		edge, err := currentEdge(ctx, tx, key)
		if err != nil {
			return nil, err
		}
		if edge == nil {
			return nil, shared.ErrEdgeNotFound.With(fmt.Errorf("pair %s", key))
		}
		if mentor == nil {
			return nil, shared.ErrMentorNotFound.With(fmt.Errorf("uid %s", key.Mentor))
		}

		if err := fn(edge, mentor); err != nil {
			return nil, err
		}

		if err := run(ctx, tx, updateEdgeCypher, edgeParams(edge)); err != nil {
			return nil, err
		}
		if err := updateCounters(ctx, tx, mentor); err != nil {
			return nil, err
		}
		return transitioned{edge: edge, mentor: mentor}, nil
	})
	if err != nil {
		return nil, nil, mapError("transition edge", err)
	}
	t := out.(transitioned)
	return t.edge, t.mentor, nil
}

// ListPending returns pending edges for one side, oldest first.
func (s *Store) ListPending(ctx context.Context, filter mentorship.PendingFilter) ([]*mentorship.Edge, error) {
	cypher, uid := listPendingByStudentCypher, filter.StudentUID
	if filter.MentorUID != "" {
		cypher, uid = listPendingByMentorCypher, filter.MentorUID
	}

	records, err := s.client.read(ctx, cypher, map[string]any{"uid": uid.String()})
	if err != nil {
		return nil, mapError("list pending", err)
	}

	out := make([]*mentorship.Edge, 0, len(records))
	for _, rec := range records {
		e, err := edgeFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// CountActive counts active edges of a mentor.
func (s *Store) CountActive(ctx context.Context, mentor mentorship.UserID) (int, error) {
	records, err := s.client.read(ctx, countActiveCypher, map[string]any{"uid": mentor.String()})
	if err != nil {
		return 0, mapError("count active", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	return recordInt(records[0], "active"), nil
}

// RepairMentor locks the mentor, counts its active edges and lets fn
// decide whether to rewrite the counter.
func (s *Store) RepairMentor(ctx context.Context, uid mentorship.UserID, fn mentorship.RepairFunc) (*mentorship.UserNode, error) {
	session := s.client.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		mentor, err := lockMentor(ctx, tx, uid)
		if err != nil {
			return nil, err
		}
		if !mentor.IsMentor() {
			return nil, shared.ErrMentorNotFound.With(fmt.Errorf("uid %s", uid))
		}

		rec, err := single(ctx, tx, countActiveCypher, map[string]any{"uid": uid.String()})
		if err != nil {
			return nil, err
		}
		changed, err := fn(mentor, recordInt(rec, "active"))
		if err != nil {
			return nil, err
		}
		if changed {
			if err := updateCounters(ctx, tx, mentor); err != nil {
				return nil, err
			}
		}
		return mentor, nil
	})
	if err != nil {
		return nil, mapError("repair mentor", err)
	}
	return out.(*mentorship.UserNode), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func run(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) error {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

// collect runs a query and returns all its records.
func collect(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return res.Collect(ctx)
}

func single(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) (*neo4j.Record, error) {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return res.Single(ctx)
}

// lockMentor returns nil when the node does not exist or is not a profile.
func lockMentor(ctx context.Context, tx neo4j.ManagedTransaction, uid mentorship.UserID) (*mentorship.UserNode, error) {
	records, err := collect(ctx, tx, lockMentorCypher, map[string]any{"mentor": uid.String()})
	if err != nil || len(records) == 0 {
		return nil, err
	}
	u, err := userFromRecord(records[0], "m")
	if errors.Is(err, errNotProfile) {
		return nil, nil
	}
	return u, err
}

func currentEdge(ctx context.Context, tx neo4j.ManagedTransaction, key mentorship.PairKey) (*mentorship.Edge, error) {
	records, err := collect(ctx, tx, currentEdgeCypher, pairParams(key))
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return edgeFromRecord(records[0])
}

func updateCounters(ctx context.Context, tx neo4j.ManagedTransaction, m *mentorship.UserNode) error {
	if !m.IsMentor() {
		return nil
	}
	return run(ctx, tx, updateCountersCypher, map[string]any{
		"uid":                m.UID.String(),
		"current_mentees":    int64(m.Mentor.CurrentMentees),
		"total_mentees_ever": int64(m.Mentor.TotalMenteesEver),
		"updated_at":         m.UpdatedAt.UTC(),
	})
}

func pairParams(key mentorship.PairKey) map[string]any {
	return map[string]any{"student": key.Student.String(), "mentor": key.Mentor.String()}
}

func edgeParams(e *mentorship.Edge) map[string]any {
	return map[string]any{
		"id":               e.ID,
		"status":           e.Status.String(),
		"goals":            nonNil(e.Goals),
		"notes":            nonNil(e.Notes),
		"last_decision_at": optionalTime(e.LastDecisionAt),
		"ended_at":         optionalTime(e.EndedAt),
		"end_reason":       e.EndReason,
		"updated_at":       e.UpdatedAt.UTC(),
	}
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
