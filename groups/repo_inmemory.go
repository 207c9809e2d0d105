package groups

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	relayerrors "github.com/jrsteele09/go-call-relay/internal/errors"
)

var _ Repo = (*InMemoryGroupRepo)(nil)

// InMemoryGroupRepo keeps groups in process memory.
type InMemoryGroupRepo struct {
	mu     sync.RWMutex
	groups map[string]*Group // groupID -> group
}

// NewInMemoryGroupRepo creates an empty group repo
func NewInMemoryGroupRepo() *InMemoryGroupRepo {
	return &InMemoryGroupRepo{
		groups: make(map[string]*Group),
	}
}

// Create stores a new group
func (r *InMemoryGroupRepo) Create(_ context.Context, group *Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[group.ID]; ok {
		return relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "group %s already exists", group.ID)
	}
	r.groups[group.ID] = clone(group)
	return nil
}

// Get returns a copy of the group
func (r *InMemoryGroupRepo) Get(_ context.Context, groupID string) (*Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[groupID]
	if !ok {
		return nil, relayerrors.Wrapf(relayerrors.ErrGroupNotFound, "group %s", groupID)
	}
	return clone(g), nil
}

// ListForUser returns copies of the user's groups
func (r *InMemoryGroupRepo) ListForUser(_ context.Context, userID string) ([]*Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Group, 0)
	for _, g := range r.groups {
		if g.IsMember(userID) {
			result = append(result, clone(g))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

// AddMembers appends the ids that are not members yet
func (r *InMemoryGroupRepo) AddMembers(_ context.Context, groupID string, userIDs []string, at time.Time) (*Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupID]
	if !ok {
		return nil, relayerrors.Wrapf(relayerrors.ErrGroupNotFound, "group %s", groupID)
	}
	for _, id := range userIDs {
		if id != "" && !g.IsMember(id) {
			g.Members = append(g.Members, id)
		}
	}
	g.UpdatedAt = at
	return clone(g), nil
}

// RemoveMember drops the user from members and admins
func (r *InMemoryGroupRepo) RemoveMember(_ context.Context, groupID, userID string, at time.Time) (*Group, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupID]
	if !ok {
		return nil, false, relayerrors.Wrapf(relayerrors.ErrGroupNotFound, "group %s", groupID)
	}
	if !g.IsMember(userID) {
		return clone(g), false, nil
	}
	g.Members = slices.DeleteFunc(g.Members, func(id string) bool { return id == userID })
	g.Admins = slices.DeleteFunc(g.Admins, func(id string) bool { return id == userID })
	g.UpdatedAt = at
	return clone(g), true, nil
}

func clone(g *Group) *Group {
	c := *g
	c.Members = slices.Clone(g.Members)
	c.Admins = slices.Clone(g.Admins)
	return &c
}
