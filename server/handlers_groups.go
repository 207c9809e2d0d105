package server

import (
	"net/http"

	"github.com/jrsteele09/go-call-relay/groups"
)

type createGroupRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"memberIds"`
}

type addMembersRequest struct {
	NewMemberIDs []string `json:"newMemberIds"`
}

func (s *Server) ListGroupsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.groups.ListForUser(r.Context(), UserIDFromContext(r.Context()))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if list == nil {
			list = []*groups.Group{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func (s *Server) CreateGroupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createGroupRequest
		if err := decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		group, err := s.groups.Create(r.Context(), UserIDFromContext(r.Context()), req.Name, req.MemberIDs)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, group)
	}
}

// AddGroupMembersHandler serves PUT /api/groups/{groupId}/add for admins.
func (s *Server) AddGroupMembersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addMembersRequest
		if err := decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		group, err := s.groups.AddMembers(r.Context(), UserIDFromContext(r.Context()), r.PathValue("groupId"), req.NewMemberIDs)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, group)
	}
}

// RemoveGroupMemberHandler serves DELETE /api/groups/{groupId}/{userId}. The
// removed user is told through removedFromGroup if they are connected.
func (s *Server) RemoveGroupMemberHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group, err := s.groups.RemoveMember(r.Context(), UserIDFromContext(r.Context()), r.PathValue("groupId"), r.PathValue("userId"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, group)
	}
}
