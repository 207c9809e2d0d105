package server

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/google/uuid"

	"github.com/jrsteele09/go-call-relay/calls"
	relayerrors "github.com/jrsteele09/go-call-relay/internal/errors"
)

type initiateCallRequest struct {
	CallID       string `json:"callId"`
	TargetUserID string `json:"targetUserId"`
	CallType     string `json:"callType"`
	IsGroup      bool   `json:"isGroup"`
	GroupID      string `json:"groupId"`
}

type callStatusRequest struct {
	Status    string `json:"status"`
	EndReason string `json:"endReason"`
}

// CallHistoryHandler serves GET /api/calls/history?page=&limit=&type=
func (s *Server) CallHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		filter := calls.HistoryFilter{UserID: UserIDFromContext(r.Context())}

		var err error
		if filter.Page, err = queryInt(query.Get("page"), 1); err != nil {
			s.writeError(w, r, relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "page"))
			return
		}
		if filter.Limit, err = queryInt(query.Get("limit"), calls.DefaultHistoryLimit); err != nil {
			s.writeError(w, r, relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "limit"))
			return
		}
		if kind := query.Get("type"); kind != "" && kind != "all" {
			filter.Kind = calls.Kind(kind)
		}

		page, err := s.calls.History(r.Context(), filter)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if page.Calls == nil {
			page.Calls = []*calls.Record{}
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func (s *Server) RecentCallsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := s.calls.Recent(r.Context(), UserIDFromContext(r.Context()))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if records == nil {
			records = []*calls.Record{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

// InitiateCallHandler creates a call record. Group calls take every member of
// the group as participant and require the caller to be one of them.
func (s *Server) InitiateCallHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req initiateCallRequest
		if err := decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		userID := UserIDFromContext(r.Context())
		if req.CallID == "" {
			req.CallID = uuid.NewString()
		}

		params := calls.InitiateParams{
			CallID:      req.CallID,
			InitiatedBy: userID,
			Kind:        calls.Kind(req.CallType),
			IsGroup:     req.IsGroup,
		}
		if req.IsGroup {
			if req.GroupID == "" {
				s.writeError(w, r, relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "groupId is required for group calls"))
				return
			}
			members, err := s.groups.Members(r.Context(), req.GroupID)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			if !slices.Contains(members, userID) {
				s.writeError(w, r, relayerrors.Wrapf(relayerrors.ErrNotGroupMember, "user %s in group %s", userID, req.GroupID))
				return
			}
			params.GroupID = req.GroupID
			params.Participants = members
		} else {
			if req.TargetUserID == "" {
				s.writeError(w, r, relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "targetUserId is required"))
				return
			}
			params.Participants = []string{req.TargetUserID}
		}

		record, err := s.calls.Initiate(r.Context(), params)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, record)
	}
}

// CallStatusHandler applies a guarded status change reported by a
// participant, including missed calls detected by the client's ring timer.
func (s *Server) CallStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callID := r.PathValue("callId")
		var req callStatusRequest
		if err := decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		status := calls.Status(req.Status)
		if !status.Valid() || status == calls.StatusInitiated {
			s.writeError(w, r, relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "unknown status %q", req.Status))
			return
		}
		reason, ok := calls.ParseEndReason(req.EndReason)
		if !ok {
			s.writeError(w, r, relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "unknown endReason %q", req.EndReason))
			return
		}

		record, err := s.calls.Get(r.Context(), callID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		userID := UserIDFromContext(r.Context())
		if !record.HasParticipant(userID) {
			s.writeError(w, r, relayerrors.Wrapf(relayerrors.ErrForbidden, "user %s is not a participant of call %s", userID, callID))
			return
		}

		updated, err := s.calls.Apply(r.Context(), callID, status, reason)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func (s *Server) DeleteCallHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.calls.Delete(r.Context(), r.PathValue("callId"), UserIDFromContext(r.Context())); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "call deleted"})
	}
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
