package groups

import (
	"context"
	"time"
)

// Repo stores groups and their members. Get, AddMembers and RemoveMember
// return ErrGroupNotFound for an unknown group.
type Repo interface {
	Create(ctx context.Context, group *Group) error
	Get(ctx context.Context, groupID string) (*Group, error)

	// ListForUser returns the groups userID belongs to, most recently updated first
	ListForUser(ctx context.Context, userID string) ([]*Group, error)

	// AddMembers adds userIDs that are not already members
	AddMembers(ctx context.Context, groupID string, userIDs []string, at time.Time) (*Group, error)

	// RemoveMember drops userID from both members and admins. removed is
	// false, and the group left untouched, when userID was not a member.
	RemoveMember(ctx context.Context, groupID, userID string, at time.Time) (group *Group, removed bool, err error)
}
