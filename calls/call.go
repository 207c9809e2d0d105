// Package calls keeps the persisted record of every call and guards its
// lifecycle: initiated -> connecting -> active -> ended, with missed and
// rejected reachable before the call becomes active. Terminal records never
// change again.
package calls

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a call record.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusEnded      Status = "ended"
	StatusMissed     Status = "missed"
	StatusRejected   Status = "rejected"
)

// IsTerminal reports whether no transition may leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusEnded, StatusMissed, StatusRejected:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInitiated, StatusConnecting, StatusActive, StatusEnded, StatusMissed, StatusRejected:
		return true
	}
	return false
}

// TerminalStatuses lists the statuses shown in call history.
var TerminalStatuses = []Status{StatusEnded, StatusMissed, StatusRejected}

// OpenStatuses lists the statuses of calls still in progress.
var OpenStatuses = []Status{StatusInitiated, StatusConnecting, StatusActive}

// AllowedSources returns the statuses a record may be in for a transition to
// target to be accepted. Nothing transitions into initiated.
func AllowedSources(target Status) []Status {
	switch target {
	case StatusConnecting:
		return []Status{StatusInitiated}
	case StatusActive:
		return []Status{StatusInitiated, StatusConnecting}
	case StatusEnded:
		return []Status{StatusInitiated, StatusConnecting, StatusActive}
	case StatusMissed, StatusRejected:
		return []Status{StatusInitiated, StatusConnecting}
	}
	return nil
}

// Kind is the media kind of a call.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Valid reports whether k is audio or video.
func (k Kind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// EndReason explains why a call reached a terminal state.
type EndReason string

const (
	EndReasonCompleted    EndReason = "completed"
	EndReasonMissed       EndReason = "missed"
	EndReasonRejected     EndReason = "rejected"
	EndReasonFailed       EndReason = "failed"
	EndReasonNetworkError EndReason = "network_error"
)

// ParseEndReason returns the end reason named by s. An empty string maps to
// completed.
func ParseEndReason(s string) (EndReason, bool) {
	switch r := EndReason(s); r {
	case "":
		return EndReasonCompleted, true
	case EndReasonCompleted, EndReasonMissed, EndReasonRejected, EndReasonFailed, EndReasonNetworkError:
		return r, true
	}
	return "", false
}

// Record is one call's persisted lifecycle.
type Record struct {
	CallID       string     `json:"callId"`
	Participants []string   `json:"participants"`
	Kind         Kind       `json:"callType"`
	IsGroup      bool       `json:"isGroup"`
	GroupID      string     `json:"groupId,omitempty"` // Set iff IsGroup
	InitiatedBy  string     `json:"initiatedBy"`
	Status       Status     `json:"status"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	Duration     int64      `json:"duration"` // Whole seconds between StartedAt and EndedAt
	EndReason    EndReason  `json:"endReason,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// HasParticipant reports whether userID took part in the call.
func (r *Record) HasParticipant(userID string) bool {
	return slices.Contains(r.Participants, userID)
}

// DurationBetween returns the whole seconds from startedAt to endedAt, or 0
// when the call never started.
func DurationBetween(startedAt *time.Time, endedAt time.Time) int64 {
	if startedAt == nil || endedAt.Before(*startedAt) {
		return 0
	}
	return int64(endedAt.Sub(*startedAt) / time.Second)
}
