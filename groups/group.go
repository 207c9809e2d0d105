// Package groups is the membership view of chat groups. The relay only needs
// to know who belongs to a group and who may manage it.
package groups

import (
	"slices"
	"time"
)

// Group is a named set of members, some of whom are admins.
type Group struct {
	ID        string    `json:"groupId"`
	Name      string    `json:"name"`
	GroupPic  string    `json:"groupPic,omitempty"`
	Members   []string  `json:"members"`
	Admins    []string  `json:"admins"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (g *Group) IsMember(userID string) bool {
	return slices.Contains(g.Members, userID)
}

func (g *Group) IsAdmin(userID string) bool {
	return slices.Contains(g.Admins, userID)
}
