// Package sqlstore keeps the presence table in the shared relay database so
// several relay instances can see who is online and where.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jrsteele09/go-call-relay/presence"
)

var _ presence.Store = (*Store)(nil)

type presenceRow struct {
	UserID      string `db:"user_id"`
	SessionID   string `db:"session_id"`
	InstanceID  string `db:"instance_id"`
	ConnectedAt int64  `db:"connected_at"`
}

func (r presenceRow) entry() presence.Entry {
	return presence.Entry{
		UserID:      r.UserID,
		SessionID:   r.SessionID,
		InstanceID:  r.InstanceID,
		ConnectedAt: time.UnixMilli(r.ConnectedAt),
	}
}

// Store is a presence.Store over the presence table.
type Store struct {
	db *sqlx.DB
}

// New returns a store over an already migrated database.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// ClearInstance removes the entries left behind by a previous run of the
// instance with the given id.
func (s *Store) ClearInstance(ctx context.Context, instanceID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM presence WHERE instance_id = ?`), instanceID)
	if err != nil {
		return 0, fmt.Errorf("clear presence for instance %s: %w", instanceID, err)
	}
	return res.RowsAffected()
}

func (s *Store) Put(ctx context.Context, entry presence.Entry) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO presence (user_id, session_id, instance_id, connected_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			session_id = excluded.session_id,
			instance_id = excluded.instance_id,
			connected_at = excluded.connected_at`),
		entry.UserID, entry.SessionID, entry.InstanceID, entry.ConnectedAt.UnixMilli())
	return err
}

func (s *Store) Get(ctx context.Context, userID string) (presence.Entry, bool, error) {
	var row presenceRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT user_id, session_id, instance_id, connected_at FROM presence WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return presence.Entry{}, false, nil
	}
	if err != nil {
		return presence.Entry{}, false, err
	}
	return row.entry(), true, nil
}

func (s *Store) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM presence WHERE user_id = ?`), userID)
	return err
}

func (s *Store) DeleteIfSession(ctx context.Context, userID, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM presence WHERE user_id = ? AND session_id = ?`), userID, sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) List(ctx context.Context) ([]presence.Entry, error) {
	var rows []presenceRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT user_id, session_id, instance_id, connected_at FROM presence`); err != nil {
		return nil, err
	}
	entries := make([]presence.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry())
	}
	return entries, nil
}
