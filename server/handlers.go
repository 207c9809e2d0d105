package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/hlog"

	relayerrors "github.com/jrsteele09/go-call-relay/internal/errors"
	"github.com/jrsteele09/go-call-relay/internal/reporting"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes an error in the {"error","error_description"} shape.
func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}

// writeError maps err onto a status code. Unexpected errors are logged and
// reported, and their text is not shown to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case relayerrors.Is(err, relayerrors.ErrNoCredentials),
		relayerrors.Is(err, relayerrors.ErrInvalidToken),
		relayerrors.Is(err, relayerrors.ErrTokenExpired):
		writeJSONError(w, "unauthorized", err.Error(), http.StatusUnauthorized)
	case relayerrors.Is(err, relayerrors.ErrInvalidRequest):
		writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
	case relayerrors.Is(err, relayerrors.ErrForbidden),
		relayerrors.Is(err, relayerrors.ErrNotGroupMember),
		relayerrors.Is(err, relayerrors.ErrNotGroupAdmin):
		writeJSONError(w, "forbidden", err.Error(), http.StatusForbidden)
	case relayerrors.Is(err, relayerrors.ErrNotFound),
		relayerrors.Is(err, relayerrors.ErrCallNotFound),
		relayerrors.Is(err, relayerrors.ErrGroupNotFound):
		writeJSONError(w, "not_found", err.Error(), http.StatusNotFound)
	case relayerrors.Is(err, relayerrors.ErrCallExists),
		relayerrors.Is(err, relayerrors.ErrTerminalState),
		relayerrors.Is(err, relayerrors.ErrInvalidTransition):
		writeJSONError(w, "conflict", err.Error(), http.StatusConflict)
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		reporting.CaptureError(r.Context(), err, map[string]string{"route": r.Pattern})
		writeJSONError(w, "server_error", "internal server error", http.StatusInternalServerError)
	}
}

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "body exceeds %d bytes", maxErr.Limit)
		}
		return relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "malformed JSON body (%v)", err)
	}
	return nil
}

func (s *Server) OnlineUsersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := s.relay.OnlineUsers(r.Context())
		if err != nil {
			s.writeError(w, r, fmt.Errorf("[OnlineUsersHandler] %w", err))
			return
		}
		if users == nil {
			users = []string{}
		}
		writeJSON(w, http.StatusOK, users)
	}
}
