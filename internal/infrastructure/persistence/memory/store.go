// Package memory provides an in-process implementation of the mentorship store.
// It serves tests, local development and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alem-hub/mentorship-hub/internal/domain/mentorship"
	"github.com/alem-hub/mentorship-hub/internal/domain/shared"
)

// Static check that Store satisfies the domain contract.
var _ mentorship.Store = (*Store)(nil)

// Hook runs at the start of every store operation. A non-nil error aborts it.
// Tests use hooks to simulate outages and slow round-trips.
type Hook func(ctx context.Context, op string) error

// Store keeps users and edges in maps.
//
// Two levels of locking are used: mu guards the maps for short critical
// sections, and a per-mentor mutex serializes every read-modify-write that
// touches a mentor's counter or its edges. Holding the mentor lock for the
// whole transition gives compare-and-set semantics without blocking writers
// of other mentors.
type Store struct {
	mu      sync.RWMutex
	users   map[mentorship.UserID]*mentorship.UserNode
	edges   map[string]*mentorship.Edge
	byPair  map[mentorship.PairKey][]string
	mentors sync.Map // UserID -> *sync.Mutex

	hookMu sync.RWMutex
	hook   Hook
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:  make(map[mentorship.UserID]*mentorship.UserNode),
		edges:  make(map[string]*mentorship.Edge),
		byPair: make(map[mentorship.PairKey][]string),
	}
}

// SetHook installs a hook (nil removes it).
func (s *Store) SetHook(h Hook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.hook = h
}

func (s *Store) enter(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return shared.ErrStoreUnavailable.With(err)
	}
	s.hookMu.RLock()
	h := s.hook
	s.hookMu.RUnlock()
	if h != nil {
		return h(ctx, op)
	}
	return nil
}

func (s *Store) lockMentor(uid mentorship.UserID) func() {
	v, _ := s.mentors.LoadOrStore(uid, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Ping always succeeds unless a hook says otherwise.
func (s *Store) Ping(ctx context.Context) error {
	return s.enter(ctx, "Ping")
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILES
// ══════════════════════════════════════════════════════════════════════════════

// GetUser returns a copy of the stored profile.
func (s *Store) GetUser(ctx context.Context, uid mentorship.UserID) (*mentorship.UserNode, error) {
	if err := s.enter(ctx, "GetUser"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[uid]
	if !ok {
		return nil, shared.ErrUserNotFound.With(fmt.Errorf("uid %s", uid))
	}
	return u.Clone(), nil
}

// ListMentors returns copies of matching mentors ordered by uid.
func (s *Store) ListMentors(ctx context.Context, filter mentorship.MentorFilter) ([]*mentorship.UserNode, error) {
	if err := s.enter(ctx, "ListMentors"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*mentorship.UserNode, 0)
	for _, u := range s.users {
		if filter.Matches(u) {
			out = append(out, u.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

// SaveUser upserts a profile. Counters of an existing mentor survive the
// import; the import is refused when it would leave them inconsistent.
func (s *Store) SaveUser(ctx context.Context, user *mentorship.UserNode) (*mentorship.UserNode, error) {
	if err := s.enter(ctx, "SaveUser"); err != nil {
		return nil, err
	}
	unlock := s.lockMentor(user.UID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := user.Clone()
	if prev, ok := s.users[user.UID]; ok {
		stored.CreatedAt = prev.CreatedAt
		if prev.IsMentor() && stored.IsMentor() {
			stored.Mentor.CurrentMentees = prev.Mentor.CurrentMentees
			stored.Mentor.TotalMenteesEver = prev.Mentor.TotalMenteesEver
		}
		if err := mentorship.CheckReimport(prev, stored, s.countActiveLocked(user.UID)); err != nil {
			return nil, err
		}
	}
	s.users[user.UID] = stored
	return stored.Clone(), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RELATIONSHIPS
// ══════════════════════════════════════════════════════════════════════════════

// GetEdge returns the current edge of a pair.
func (s *Store) GetEdge(ctx context.Context, key mentorship.PairKey) (*mentorship.Edge, error) {
	if err := s.enter(ctx, "GetEdge"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.currentEdgeLocked(key)
	if e == nil {
		return nil, shared.ErrEdgeNotFound.With(fmt.Errorf("pair %s", key))
	}
	return e.Clone(), nil
}

// CreateEdge inserts a pending edge unless the pair already has an open one.
func (s *Store) CreateEdge(ctx context.Context, edge *mentorship.Edge) error {
	if err := s.enter(ctx, "CreateEdge"); err != nil {
		return err
	}
	unlock := s.lockMentor(edge.MentorUID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := edge.Key()
	if cur := s.currentEdgeLocked(key); cur != nil && cur.Status.IsOpen() {
		return shared.ErrOpenEdgeExists.With(fmt.Errorf("pair %s is %s", key, cur.Status))
	}
	if _, dup := s.edges[edge.ID]; dup {
		return shared.ErrOpenEdgeExists.With(fmt.Errorf("edge id %s already used", edge.ID))
	}

	s.edges[edge.ID] = edge.Clone()
	s.byPair[key] = append(s.byPair[key], edge.ID)
	return nil
}

// TransitionEdge runs fn on copies of the pair's current edge and its mentor
// while the mentor lock is held, and stores both only if fn succeeds.
func (s *Store) TransitionEdge(ctx context.Context, key mentorship.PairKey, fn mentorship.TransitionFunc) (*mentorship.Edge, *mentorship.UserNode, error) {
	if err := s.enter(ctx, "TransitionEdge"); err != nil {
		return nil, nil, err
	}
	unlock := s.lockMentor(key.Mentor)
	defer unlock()

	s.mu.RLock()
	cur := s.currentEdgeLocked(key)
	mentor, mentorOK := s.users[key.Mentor]
	var edge *mentorship.Edge
	var m *mentorship.UserNode
	if cur != nil {
		edge = cur.Clone()
	}
	if mentorOK {
		m = mentor.Clone()
	}
	s.mu.RUnlock()

	if edge == nil {
		return nil, nil, shared.ErrEdgeNotFound.With(fmt.Errorf("pair %s", key))
	}
	if m == nil {
		return nil, nil, shared.ErrMentorNotFound.With(fmt.Errorf("uid %s", key.Mentor))
	}

	if err := fn(edge, m); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	s.edges[edge.ID] = edge.Clone()
	s.users[m.UID] = m.Clone()
	s.mu.Unlock()

	return edge, m, nil
}

// ListPending returns pending edges for one side, oldest first.
func (s *Store) ListPending(ctx context.Context, filter mentorship.PendingFilter) ([]*mentorship.Edge, error) {
	if err := s.enter(ctx, "ListPending"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*mentorship.Edge, 0)
	for _, e := range s.edges {
		if filter.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	mentorship.SortByStartDate(out)
	return out, nil
}

// CountActive counts active edges of a mentor.
func (s *Store) CountActive(ctx context.Context, mentor mentorship.UserID) (int, error) {
	if err := s.enter(ctx, "CountActive"); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countActiveLocked(mentor), nil
}

// RepairMentor hands fn the mentor profile and its real active edge count.
func (s *Store) RepairMentor(ctx context.Context, uid mentorship.UserID, fn mentorship.RepairFunc) (*mentorship.UserNode, error) {
	if err := s.enter(ctx, "RepairMentor"); err != nil {
		return nil, err
	}
	unlock := s.lockMentor(uid)
	defer unlock()

	s.mu.RLock()
	stored, ok := s.users[uid]
	active := s.countActiveLocked(uid)
	var m *mentorship.UserNode
	if ok {
		m = stored.Clone()
	}
	s.mu.RUnlock()

	if m == nil || !m.IsMentor() {
		return nil, shared.ErrMentorNotFound.With(fmt.Errorf("uid %s", uid))
	}

	changed, err := fn(m, active)
	if err != nil {
		return nil, err
	}
	if changed {
		s.mu.Lock()
		s.users[uid] = m.Clone()
		s.mu.Unlock()
	}
	return m, nil
}

// Edges returns every stored edge of a pair in creation order.
func (s *Store) Edges(key mentorship.PairKey) []*mentorship.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byPair[key]
	out := make([]*mentorship.Edge, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.edges[id].Clone())
	}
	return out
}

func (s *Store) currentEdgeLocked(key mentorship.PairKey) *mentorship.Edge {
	ids := s.byPair[key]
	if len(ids) == 0 {
		return nil
	}
	edges := make([]*mentorship.Edge, 0, len(ids))
	for _, id := range ids {
		edges = append(edges, s.edges[id])
	}
	return mentorship.LatestForPair(edges)
}

func (s *Store) countActiveLocked(mentor mentorship.UserID) int {
	n := 0
	for _, e := range s.edges {
		if e.MentorUID == mentor && e.Status == mentorship.StatusActive {
			n++
		}
	}
	return n
}
