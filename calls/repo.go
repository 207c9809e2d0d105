package calls

import (
	"context"
	"time"

	relayerrors "github.com/jrsteele09/go-call-relay/internal/errors"
	"github.com/jrsteele09/go-call-relay/internal/utils"
)

// Transition describes a status change applied by a Repo. The repo accepts it
// only while the record's current status is in Sources().
type Transition struct {
	To        Status
	At        time.Time
	EndReason EndReason // Used when To is terminal
	From      []Status  // Narrows AllowedSources(To) when set
}

// Sources returns the statuses the record may be in for t to apply.
func (t Transition) Sources() []Status {
	if len(t.From) > 0 {
		return t.From
	}
	return AllowedSources(t.To)
}

// HistoryFilter selects a page of a user's finished calls.
type HistoryFilter struct {
	UserID string
	Kind   Kind // Empty for every kind
	Page   int  // 1 based
	Limit  int
}

// Offset returns the number of records skipped before the page.
func (f HistoryFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// Repo persists call records. Transition must be a single conditional update:
// it fails with ErrCallNotFound, ErrTerminalState or ErrInvalidTransition and
// leaves the record untouched when the current status does not allow it.
type Repo interface {
	Create(ctx context.Context, record *Record) error
	Get(ctx context.Context, callID string) (*Record, error)
	Transition(ctx context.Context, callID string, t Transition) (*Record, error)
	History(ctx context.Context, filter HistoryFilter) ([]*Record, int, error)
	Recent(ctx context.Context, userID string, since time.Time, limit int) ([]*Record, error)
	ListOpen(ctx context.Context, userID string) ([]*Record, error)
	Delete(ctx context.Context, callID string) error
}

// TransitionError explains why a record in status current cannot move to to.
func TransitionError(callID string, current, to Status) error {
	if current.IsTerminal() {
		return relayerrors.Wrapf(relayerrors.ErrTerminalState, "call %s is %s", callID, current)
	}
	return relayerrors.Wrapf(relayerrors.ErrInvalidTransition, "call %s cannot move from %s to %s", callID, current, to)
}

// Apply mutates record as the accepted transition t requires.
func (t Transition) Apply(record *Record) {
	record.Status = t.To
	switch {
	case t.To == StatusActive:
		if record.StartedAt == nil {
			record.StartedAt = utils.Ptr(t.At)
		}
	case t.To.IsTerminal():
		record.EndedAt = utils.Ptr(t.At)
		record.EndReason = t.EndReason
		record.Duration = DurationBetween(record.StartedAt, t.At)
	}
}
