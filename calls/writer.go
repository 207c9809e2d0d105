package calls

import (
	"context"
	"slices"
	"time"

	relayerrors "github.com/jrsteele09/go-call-relay/internal/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

const (
	// RecentWindow bounds the calls returned by Recent.
	RecentWindow = 24 * time.Hour
	// RecentLimit caps the number of calls returned by Recent.
	RecentLimit = 10

	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// InitiateParams describes a new call.
type InitiateParams struct {
	CallID       string
	InitiatedBy  string
	Participants []string // The initiator is added when missing
	Kind         Kind
	IsGroup      bool
	GroupID      string
}

// HistoryPage is one page of a user's call history.
type HistoryPage struct {
	Calls   []*Record `json:"calls"`
	Page    int       `json:"current"`
	Pages   int       `json:"total"`
	HasNext bool      `json:"hasNext"`
	Total   int       `json:"count"`
}

// Writer applies the call lifecycle to a Repo.
type Writer struct {
	repo Repo
}

// NewWriter creates a writer over repo.
func NewWriter(repo Repo) *Writer {
	return &Writer{repo: repo}
}

// Initiate creates a call record in the initiated status.
func (w *Writer) Initiate(ctx context.Context, p InitiateParams) (*Record, error) {
	if p.CallID == "" {
		return nil, relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "callId is required")
	}
	if p.InitiatedBy == "" {
		return nil, relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "initiator is required")
	}
	if !p.Kind.Valid() {
		return nil, relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "unknown call type %q", p.Kind)
	}
	if p.IsGroup != (p.GroupID != "") {
		return nil, relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "groupId must be set exactly for group calls")
	}

	participants := []string{p.InitiatedBy}
	for _, id := range p.Participants {
		if id != "" && !slices.Contains(participants, id) {
			participants = append(participants, id)
		}
	}

	record := &Record{
		CallID:       p.CallID,
		Participants: participants,
		Kind:         p.Kind,
		IsGroup:      p.IsGroup,
		GroupID:      p.GroupID,
		InitiatedBy:  p.InitiatedBy,
		Status:       StatusInitiated,
		CreatedAt:    NowTimeFunc(),
	}
	if err := w.repo.Create(ctx, record); err != nil {
		return nil, relayerrors.Wrapf(err, "initiate call %s", p.CallID)
	}
	return record, nil
}

// MarkConnecting records that the callee accepted.
func (w *Writer) MarkConnecting(ctx context.Context, callID string) (*Record, error) {
	return w.transition(ctx, callID, StatusConnecting, "")
}

// MarkActive records that media is flowing. The start time is kept if one
// was already set.
func (w *Writer) MarkActive(ctx context.Context, callID string) (*Record, error) {
	return w.transition(ctx, callID, StatusActive, "")
}

// MarkEnded ends the call, deriving its duration from the start time.
func (w *Writer) MarkEnded(ctx context.Context, callID string, reason EndReason) (*Record, error) {
	if reason == "" {
		reason = EndReasonCompleted
	}
	return w.transition(ctx, callID, StatusEnded, reason)
}

// MarkRejected records that the callee declined.
func (w *Writer) MarkRejected(ctx context.Context, callID string) (*Record, error) {
	return w.transition(ctx, callID, StatusRejected, EndReasonRejected)
}

// MarkDeclined records the callee's answer to a ringing call. Unlike
// MarkRejected it only applies while the call is still initiated, so an
// accept and a decline for the same call cannot both succeed.
func (w *Writer) MarkDeclined(ctx context.Context, callID string) (*Record, error) {
	if callID == "" {
		return nil, relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "callId is required")
	}
	return w.repo.Transition(ctx, callID, Transition{
		To:        StatusRejected,
		At:        NowTimeFunc(),
		EndReason: EndReasonRejected,
		From:      []Status{StatusInitiated},
	})
}

// MarkMissed records that the call rang out unanswered.
func (w *Writer) MarkMissed(ctx context.Context, callID string) (*Record, error) {
	return w.transition(ctx, callID, StatusMissed, EndReasonMissed)
}

// Apply moves the call to status, dispatching to the matching Mark method.
func (w *Writer) Apply(ctx context.Context, callID string, status Status, reason EndReason) (*Record, error) {
	switch status {
	case StatusConnecting:
		return w.MarkConnecting(ctx, callID)
	case StatusActive:
		return w.MarkActive(ctx, callID)
	case StatusEnded:
		return w.MarkEnded(ctx, callID, reason)
	case StatusRejected:
		return w.MarkRejected(ctx, callID)
	case StatusMissed:
		return w.MarkMissed(ctx, callID)
	}
	return nil, relayerrors.Wrapf(relayerrors.ErrInvalidTransition, "cannot move call %s to %q", callID, status)
}

// Get returns the record for callID.
func (w *Writer) Get(ctx context.Context, callID string) (*Record, error) {
	return w.repo.Get(ctx, callID)
}

// History returns a page of the finished calls userID took part in, newest
// first.
func (w *Writer) History(ctx context.Context, filter HistoryFilter) (*HistoryPage, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = DefaultHistoryLimit
	}
	if filter.Limit > MaxHistoryLimit {
		filter.Limit = MaxHistoryLimit
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "unknown call type %q", filter.Kind)
	}

	records, total, err := w.repo.History(ctx, filter)
	if err != nil {
		return nil, relayerrors.Wrapf(err, "call history for %s", filter.UserID)
	}
	return &HistoryPage{
		Calls:   records,
		Page:    filter.Page,
		Pages:   (total + filter.Limit - 1) / filter.Limit,
		HasNext: filter.Page*filter.Limit < total,
		Total:   total,
	}, nil
}

// Recent returns the calls userID took part in during the last day.
func (w *Writer) Recent(ctx context.Context, userID string) ([]*Record, error) {
	return w.repo.Recent(ctx, userID, NowTimeFunc().Add(-RecentWindow), RecentLimit)
}

// OpenCalls returns the calls userID takes part in that have not finished.
func (w *Writer) OpenCalls(ctx context.Context, userID string) ([]*Record, error) {
	return w.repo.ListOpen(ctx, userID)
}

// Delete removes a call record on behalf of userID, who must have taken part.
func (w *Writer) Delete(ctx context.Context, callID, userID string) error {
	record, err := w.repo.Get(ctx, callID)
	if err != nil {
		return err
	}
	if !record.HasParticipant(userID) {
		return relayerrors.Wrapf(relayerrors.ErrForbidden, "user %s is not a participant of call %s", userID, callID)
	}
	return w.repo.Delete(ctx, callID)
}

func (w *Writer) transition(ctx context.Context, callID string, to Status, reason EndReason) (*Record, error) {
	if callID == "" {
		return nil, relayerrors.Wrapf(relayerrors.ErrInvalidRequest, "callId is required")
	}
	return w.repo.Transition(ctx, callID, Transition{
		To:        to,
		At:        NowTimeFunc(),
		EndReason: reason,
	})
}
