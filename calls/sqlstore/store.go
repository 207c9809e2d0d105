// Package sqlstore persists call records in SQLite or Postgres. Status
// changes are single conditional UPDATE statements so concurrent events for
// one call cannot overwrite each other.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jrsteele09/go-call-relay/calls"
	relayerrors "github.com/jrsteele09/go-call-relay/internal/errors"
	"github.com/jrsteele09/go-call-relay/internal/sqlutil"
	"github.com/jrsteele09/go-call-relay/internal/utils"
)

var _ calls.Repo = (*Store)(nil)

const callColumns = `c.call_id, c.call_type, c.is_group, c.group_id, c.initiated_by, c.status,
	c.started_at, c.ended_at, c.duration, c.end_reason, c.created_at`

type callRow struct {
	CallID      string        `db:"call_id"`
	CallType    string        `db:"call_type"`
	IsGroup     bool          `db:"is_group"`
	GroupID     string        `db:"group_id"`
	InitiatedBy string        `db:"initiated_by"`
	Status      string        `db:"status"`
	StartedAt   sql.NullInt64 `db:"started_at"`
	EndedAt     sql.NullInt64 `db:"ended_at"`
	Duration    int64         `db:"duration"`
	EndReason   string        `db:"end_reason"`
	CreatedAt   int64         `db:"created_at"`
}

func (r callRow) record() *calls.Record {
	return &calls.Record{
		CallID:      r.CallID,
		Kind:        calls.Kind(r.CallType),
		IsGroup:     r.IsGroup,
		GroupID:     r.GroupID,
		InitiatedBy: r.InitiatedBy,
		Status:      calls.Status(r.Status),
		Duration:    r.Duration,
		EndReason:   calls.EndReason(r.EndReason),
		CreatedAt:   time.UnixMilli(r.CreatedAt),
		StartedAt:   utils.MillisToTime(r.StartedAt),
		EndedAt:     utils.MillisToTime(r.EndedAt),
	}
}

type participantRow struct {
	CallID string `db:"call_id"`
	UserID string `db:"user_id"`
}

// Store is a calls.Repo over the calls and call_participants tables.
type Store struct {
	db *sqlx.DB
}

// New returns a store over an already migrated database.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, record *calls.Record) error {
	return sqlutil.WithTransaction(s.db, func(txn *sqlx.Tx) error {
		var exists int
		if err := txn.GetContext(ctx, &exists, txn.Rebind(`SELECT COUNT(*) FROM calls WHERE call_id = ?`), record.CallID); err != nil {
			return err
		}
		if exists > 0 {
			return relayerrors.Wrapf(relayerrors.ErrCallExists, "call %s", record.CallID)
		}

		_, err := txn.ExecContext(ctx, txn.Rebind(`
			INSERT INTO calls (call_id, call_type, is_group, group_id, initiated_by, status, duration, end_reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, '', ?)`),
			record.CallID, string(record.Kind), record.IsGroup, record.GroupID, record.InitiatedBy,
			string(record.Status), record.CreatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert call %s: %w", record.CallID, err)
		}
		for _, userID := range record.Participants {
			_, err := txn.ExecContext(ctx, txn.Rebind(`INSERT INTO call_participants (call_id, user_id) VALUES (?, ?)`), record.CallID, userID)
			if err != nil {
				return fmt.Errorf("insert participant %s of call %s: %w", userID, record.CallID, err)
			}
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, callID string) (*calls.Record, error) {
	var row callRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+callColumns+` FROM calls c WHERE c.call_id = ?`), callID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, relayerrors.Wrapf(relayerrors.ErrCallNotFound, "call %s", callID)
	}
	if err != nil {
		return nil, fmt.Errorf("select call %s: %w", callID, err)
	}
	records, err := s.withParticipants(ctx, []callRow{row})
	if err != nil {
		return nil, err
	}
	return records[0], nil
}

func (s *Store) Transition(ctx context.Context, callID string, t calls.Transition) (*calls.Record, error) {
	sources := t.Sources()
	if len(sources) == 0 {
		return nil, relayerrors.Wrapf(relayerrors.ErrInvalidTransition, "nothing transitions to %s", t.To)
	}
	at := t.At.UnixMilli()

	var (
		query string
		args  []any
	)
	switch {
	case t.To == calls.StatusActive:
		query = `UPDATE calls SET status = ?, started_at = COALESCE(started_at, ?) WHERE call_id = ? AND status IN (?)`
		args = []any{string(t.To), at, callID, statusStrings(sources)}
	case t.To.IsTerminal():
		query = `UPDATE calls SET status = ?, ended_at = ?, end_reason = ?,
			duration = CASE WHEN started_at IS NULL OR started_at > ? THEN 0 ELSE (? - started_at) / 1000 END
			WHERE call_id = ? AND status IN (?)`
		args = []any{string(t.To), at, string(t.EndReason), at, at, callID, statusStrings(sources)}
	default:
		query = `UPDATE calls SET status = ? WHERE call_id = ? AND status IN (?)`
		args = []any{string(t.To), callID, statusStrings(sources)}
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("build transition query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("update call %s to %s: %w", callID, t.To, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	record, err := s.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, calls.TransitionError(callID, record.Status, t.To)
	}
	return record, nil
}

func (s *Store) History(ctx context.Context, filter calls.HistoryFilter) ([]*calls.Record, int, error) {
	where := `FROM calls c JOIN call_participants p ON p.call_id = c.call_id
		WHERE p.user_id = ? AND c.status IN (?)`
	args := []any{filter.UserID, statusStrings(calls.TerminalStatuses)}
	if filter.Kind != "" {
		where += ` AND c.call_type = ?`
		args = append(args, string(filter.Kind))
	}

	countQuery, countArgs, err := sqlx.In(`SELECT COUNT(*) `+where, args...)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(countQuery), countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count call history: %w", err)
	}

	pageQuery, pageArgs, err := sqlx.In(`SELECT `+callColumns+` `+where+`
		ORDER BY c.created_at DESC, c.call_id ASC LIMIT ? OFFSET ?`, append(args, filter.Limit, filter.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	records, err := s.selectRecords(ctx, pageQuery, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("select call history: %w", err)
	}
	return records, total, nil
}

func (s *Store) Recent(ctx context.Context, userID string, since time.Time, limit int) ([]*calls.Record, error) {
	return s.selectRecords(ctx, `SELECT `+callColumns+`
		FROM calls c JOIN call_participants p ON p.call_id = c.call_id
		WHERE p.user_id = ? AND c.created_at >= ?
		ORDER BY c.created_at DESC, c.call_id ASC LIMIT ?`, userID, since.UnixMilli(), limit)
}

func (s *Store) ListOpen(ctx context.Context, userID string) ([]*calls.Record, error) {
	query, args, err := sqlx.In(`SELECT `+callColumns+`
		FROM calls c JOIN call_participants p ON p.call_id = c.call_id
		WHERE p.user_id = ? AND c.status IN (?)
		ORDER BY c.created_at DESC, c.call_id ASC`, userID, statusStrings(calls.OpenStatuses))
	if err != nil {
		return nil, err
	}
	return s.selectRecords(ctx, query, args...)
}

func (s *Store) Delete(ctx context.Context, callID string) error {
	return sqlutil.WithTransaction(s.db, func(txn *sqlx.Tx) error {
		if _, err := txn.ExecContext(ctx, txn.Rebind(`DELETE FROM call_participants WHERE call_id = ?`), callID); err != nil {
			return err
		}
		res, err := txn.ExecContext(ctx, txn.Rebind(`DELETE FROM calls WHERE call_id = ?`), callID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return relayerrors.Wrapf(relayerrors.ErrCallNotFound, "call %s", callID)
		}
		return nil
	})
}

func (s *Store) selectRecords(ctx context.Context, query string, args ...any) ([]*calls.Record, error) {
	var rows []callRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return s.withParticipants(ctx, rows)
}

// withParticipants converts rows to records and loads their participants in
// one query.
func (s *Store) withParticipants(ctx context.Context, rows []callRow) ([]*calls.Record, error) {
	records := make([]*calls.Record, 0, len(rows))
	if len(rows) == 0 {
		return records, nil
	}
	byID := make(map[string]*calls.Record, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		rec := row.record()
		records = append(records, rec)
		byID[rec.CallID] = rec
		ids = append(ids, rec.CallID)
	}

	query, args, err := sqlx.In(`SELECT call_id, user_id FROM call_participants WHERE call_id IN (?) ORDER BY user_id`, ids)
	if err != nil {
		return nil, err
	}
	var participants []participantRow
	if err := s.db.SelectContext(ctx, &participants, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select call participants: %w", err)
	}
	for _, p := range participants {
		if rec, ok := byID[p.CallID]; ok {
			rec.Participants = append(rec.Participants, p.UserID)
		}
	}
	return records, nil
}

func statusStrings(statuses []calls.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
