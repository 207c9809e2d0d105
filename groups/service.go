package groups

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	relayerrors "github.com/jrsteele09/go-call-relay/internal/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// RemovalListener is told when a user stops being a member of a group.
type RemovalListener func(ctx context.Context, userID, groupID string)

// Service answers membership questions from a short lived cache and applies
// the few management operations that change membership.
type Service struct {
	repo    Repo
	members *ttlcache.Cache[string, []string] // groupID -> member ids

	mu        sync.RWMutex
	listeners []RemovalListener
}

// NewService creates a membership service. Cached member lists are kept for
// ttl and dropped immediately when this service changes the group.
func NewService(repo Repo, ttl time.Duration) *Service {
	return &Service{
		repo: repo,
		members: ttlcache.New[string, []string](
			ttlcache.WithTTL[string, []string](ttl),
			ttlcache.WithDisableTouchOnHit[string, []string](),
		),
	}
}

// Start runs the cache's expiry loop until Stop is called.
func (s *Service) Start() {
	go s.members.Start()
}

// Stop ends the expiry loop.
func (s *Service) Stop() {
	s.members.Stop()
}

// OnMemberRemoved registers l to be called after every RemoveMember that
// removed someone.
func (s *Service) OnMemberRemoved(l RemovalListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Members returns the current member ids of groupID.
func (s *Service) Members(ctx context.Context, groupID string) ([]string, error) {
	if item := s.members.Get(groupID); item != nil {
		return slices.Clone(item.Value()), nil
	}
	g, err := s.repo.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	s.members.Set(groupID, g.Members, ttlcache.DefaultTTL)
	return slices.Clone(g.Members), nil
}

// IsMember reports whether userID currently belongs to groupID. An unknown
// group has no members.
func (s *Service) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	members, err := s.Members(ctx, groupID)
	if relayerrors.Is(err, relayerrors.ErrGroupNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return slices.Contains(members, userID), nil
}

// ListForUser returns the groups userID belongs to.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*Group, error) {
	return s.repo.ListForUser(ctx, userID)
}

// Get returns groupID for a caller who must be a member.
func (s *Service) Get(ctx context.Context, actorID, groupID string) (*Group, error) {
	g, err := s.repo.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.IsMember(actorID) {
		return nil, relayerrors.Wrapf(relayerrors.ErrNotGroupMember, "user %s in group %s", actorID, groupID)
	}
	return g, nil
}

// Create makes a new group with creatorID as its first member and admin.
func (s *Service) Create(ctx context.Context, creatorID, name string, memberIDs []string) (*Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "name is required")
	}
	if len(memberIDs) == 0 {
		return nil, relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "memberIds are required")
	}

	members := []string{creatorID}
	for _, id := range memberIDs {
		if id != "" && !slices.Contains(members, id) {
			members = append(members, id)
		}
	}
	now := NowTimeFunc()
	g := &Group{
		ID:        uuid.NewString(),
		Name:      name,
		Members:   members,
		Admins:    []string{creatorID},
		CreatedBy: creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, g); err != nil {
		return nil, relayerrors.Wrapf(err, "create group %q", name)
	}
	return g, nil
}

// AddMembers adds userIDs to groupID on behalf of an admin.
func (s *Service) AddMembers(ctx context.Context, actorID, groupID string, userIDs []string) (*Group, error) {
	if err := s.requireAdmin(ctx, actorID, groupID); err != nil {
		return nil, err
	}
	g, err := s.repo.AddMembers(ctx, groupID, userIDs, NowTimeFunc())
	s.members.Delete(groupID)
	return g, err
}

// RemoveMember removes userID from groupID on behalf of an admin and then
// notifies the removal listeners. Listeners are not told about users who were
// not members.
func (s *Service) RemoveMember(ctx context.Context, actorID, groupID, userID string) (*Group, error) {
	if err := s.requireAdmin(ctx, actorID, groupID); err != nil {
		return nil, err
	}
	g, removed, err := s.repo.RemoveMember(ctx, groupID, userID, NowTimeFunc())
	s.members.Delete(groupID)
	if err != nil {
		return nil, err
	}
	if !removed {
		return g, nil
	}

	s.mu.RLock()
	listeners := slices.Clone(s.listeners)
	s.mu.RUnlock()
	for _, l := range listeners {
		l(ctx, userID, groupID)
	}
	return g, nil
}

func (s *Service) requireAdmin(ctx context.Context, actorID, groupID string) error {
	g, err := s.repo.Get(ctx, groupID)
	if err != nil {
		return err
	}
	if !g.IsAdmin(actorID) {
		return relayerrors.Wrapf(relayerrors.ErrNotGroupAdmin, "user %s in group %s", actorID, groupID)
	}
	return nil
}
