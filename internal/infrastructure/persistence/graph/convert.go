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

// errNotProfile marks a node that exists only as an edge endpoint.
var errNotProfile = errors.New("graph: node has no profile")

func userFromRecord(rec *neo4j.Record, key string) (*mentorship.UserNode, error) {
	raw, ok := rec.Get(key)
	if !ok {
		return nil, fmt.Errorf("graph: record has no %q", key)
	}
	node, ok := raw.(neo4j.Node)
	if !ok {
		return nil, fmt.Errorf("graph: %q is %T, not a node", key, raw)
	}
	return userFromProps(node.Props)
}

func userFromProps(p map[string]any) (*mentorship.UserNode, error) {
	typ := propString(p, "type")
	if typ == "" {
		return nil, errNotProfile
	}

	u := &mentorship.UserNode{
		UID:       mentorship.UserID(propString(p, "uid")),
		Type:      mentorship.UserType(typ),
		Name:      propString(p, "name"),
		Bio:       propString(p, "bio"),
		Skills:    mentorship.NewSet(propStrings(p, "skills")...),
		Interests: mentorship.NewSet(propStrings(p, "interests")...),
		IsActive:  propBool(p, "is_active"),
		CreatedAt: propTime(p, "created_at"),
		UpdatedAt: propTime(p, "updated_at"),
	}
	if u.Type == mentorship.UserTypeMentor {
		u.Mentor = &mentorship.MentorProfile{
			ExpertiseCategories: mentorship.NewSet(propStrings(p, "expertise_categories")...),
			YearsOfExperience:   propInt(p, "years_of_experience"),
			MaxMentees:          propInt(p, "max_mentees"),
			CurrentMentees:      propInt(p, "current_mentees"),
			Rating:              propFloat(p, "rating"),
			TotalMenteesEver:    propInt(p, "total_mentees_ever"),
		}
	}
	return u, nil
}

// edgeFromRecord expects the relationship under "r" and the endpoint uids
// under "student" and "mentor".
func edgeFromRecord(rec *neo4j.Record) (*mentorship.Edge, error) {
	raw, ok := rec.Get("r")
	if !ok {
		return nil, errors.New("graph: record has no relationship")
	}
	rel, ok := raw.(neo4j.Relationship)
	if !ok {
		return nil, fmt.Errorf("graph: r is %T, not a relationship", raw)
	}
	student, _ := rec.Get("student")
	mentor, _ := rec.Get("mentor")
	s, _ := student.(string)
	m, _ := mentor.(string)
	return edgeFromProps(rel.Props, s, m)
}

func edgeFromProps(p map[string]any, student, mentor string) (*mentorship.Edge, error) {
	status, err := mentorship.ParseStatus(propString(p, "status"))
	if err != nil {
		return nil, fmt.Errorf("graph: edge %s: %w", propString(p, "id"), err)
	}
	return &mentorship.Edge{
		ID:             propString(p, "id"),
		StudentUID:     mentorship.UserID(student),
		MentorUID:      mentorship.UserID(mentor),
		Status:         status,
		StartDate:      propTime(p, "start_date"),
		Goals:          propStrings(p, "goals"),
		Notes:          propStrings(p, "notes"),
		LastDecisionAt: propTimePtr(p, "last_decision_at"),
		EndedAt:        propTimePtr(p, "ended_at"),
		EndReason:      propString(p, "end_reason"),
		UpdatedAt:      propTime(p, "updated_at"),
	}, nil
}

func recordInt(rec *neo4j.Record, key string) int {
	v, _ := rec.Get(key)
	n, _ := v.(int64)
	return int(n)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROPERTY ACCESSORS
// ══════════════════════════════════════════════════════════════════════════════

func propString(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

func propBool(p map[string]any, key string) bool {
	b, _ := p[key].(bool)
	return b
}

func propInt(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func propFloat(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

// propStrings never returns nil. The driver hands lists back as []any.
func propStrings(p map[string]any, key string) []string {
	out := []string{}
	switch v := p[key].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, v...)
	}
	return out
}

func propTime(p map[string]any, key string) time.Time {
	switch v := p[key].(type) {
	case time.Time:
		return v.UTC()
	case neo4j.LocalDateTime:
		return v.Time().UTC()
	}
	return time.Time{}
}

func propTimePtr(p map[string]any, key string) *time.Time {
	t := propTime(p, key)
	if t.IsZero() {
		return nil
	}
	return &t
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// IsUnavailable reports whether err means Neo4j could not be reached or the
// driver gave up retrying. A missed deadline is not: the write may have
// committed.
func IsUnavailable(err error) bool {
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return neo4j.IsConnectivityError(err) ||
		neo4j.IsRetryable(err) ||
		neo4j.IsTransactionExecutionLimit(err)
}

// mapError converts driver errors into the domain taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return shared.ErrOperationTimedOut.With(fmt.Errorf("neo4j %s: %v", op, err))
	}
	if IsUnavailable(err) {
		return shared.ErrStoreUnavailable.With(fmt.Errorf("neo4j %s: %w", op, err))
	}
	return fmt.Errorf("neo4j %s: %w", op, err)
}
