package callrepofake

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jrsteele09/go-call-relay/calls"
	relayerrors "github.com/jrsteele09/go-call-relay/internal/errors"
)

var _ calls.Repo = (*FakeCallRepo)(nil)

type FakeCallRepo struct {
	calls map[string]*calls.Record
	lock  sync.RWMutex

	// FailWith, when set, is returned by every mutating operation.
	FailWith error
}

func NewFakeCallRepo() *FakeCallRepo {
	return &FakeCallRepo{
		calls: make(map[string]*calls.Record),
	}
}

func (cr *FakeCallRepo) Create(_ context.Context, record *calls.Record) error {
	cr.lock.Lock()
	defer cr.lock.Unlock()

	if cr.FailWith != nil {
		return cr.FailWith
	}
	if _, ok := cr.calls[record.CallID]; ok {
		return relayerrors.Wrapf(relayerrors.ErrCallExists, "call %s", record.CallID)
	}
	cr.calls[record.CallID] = clone(record)
	return nil
}

func (cr *FakeCallRepo) Get(_ context.Context, callID string) (*calls.Record, error) {
	cr.lock.RLock()
	defer cr.lock.RUnlock()

	record, ok := cr.calls[callID]
	if !ok {
		return nil, relayerrors.Wrapf(relayerrors.ErrCallNotFound, "call %s", callID)
	}
	return clone(record), nil
}

func (cr *FakeCallRepo) Transition(_ context.Context, callID string, t calls.Transition) (*calls.Record, error) {
	cr.lock.Lock()
	defer cr.lock.Unlock()

	if cr.FailWith != nil {
		return nil, cr.FailWith
	}
	record, ok := cr.calls[callID]
	if !ok {
		return nil, relayerrors.Wrapf(relayerrors.ErrCallNotFound, "call %s", callID)
	}
	if !slices.Contains(t.Sources(), record.Status) {
		return nil, calls.TransitionError(callID, record.Status, t.To)
	}
	t.Apply(record)
	return clone(record), nil
}

func (cr *FakeCallRepo) History(_ context.Context, filter calls.HistoryFilter) ([]*calls.Record, int, error) {
	matched := cr.filter(func(r *calls.Record) bool {
		return r.HasParticipant(filter.UserID) &&
			r.Status.IsTerminal() &&
			(filter.Kind == "" || r.Kind == filter.Kind)
	})
	total := len(matched)
	start := min(filter.Offset(), total)
	end := min(start+filter.Limit, total)
	return matched[start:end], total, nil
}

func (cr *FakeCallRepo) Recent(_ context.Context, userID string, since time.Time, limit int) ([]*calls.Record, error) {
	matched := cr.filter(func(r *calls.Record) bool {
		return r.HasParticipant(userID) && !r.CreatedAt.Before(since)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (cr *FakeCallRepo) ListOpen(_ context.Context, userID string) ([]*calls.Record, error) {
	return cr.filter(func(r *calls.Record) bool {
		return r.HasParticipant(userID) && !r.Status.IsTerminal()
	}), nil
}

func (cr *FakeCallRepo) Delete(_ context.Context, callID string) error {
	cr.lock.Lock()
	defer cr.lock.Unlock()

	if _, ok := cr.calls[callID]; !ok {
		return relayerrors.Wrapf(relayerrors.ErrCallNotFound, "call %s", callID)
	}
	delete(cr.calls, callID)
	return nil
}

// filter returns copies of the matching records, newest first.
func (cr *FakeCallRepo) filter(match func(*calls.Record) bool) []*calls.Record {
	cr.lock.RLock()
	defer cr.lock.RUnlock()

	records := make([]*calls.Record, 0)
	for _, r := range cr.calls {
		if match(r) {
			records = append(records, clone(r))
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CallID < records[j].CallID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records
}

func clone(r *calls.Record) *calls.Record {
	c := *r
	c.Participants = slices.Clone(r.Participants)
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	return &c
}
