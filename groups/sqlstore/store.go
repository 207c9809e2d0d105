// Package sqlstore persists groups and their members in SQLite or Postgres.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jrsteele09/go-call-relay/groups"
	relayerrors "github.com/jrsteele09/go-call-relay/internal/errors"
	"github.com/jrsteele09/go-call-relay/internal/sqlutil"
)

var _ groups.Repo = (*Store)(nil)

type groupRow struct {
	GroupID   string `db:"group_id"`
	Name      string `db:"name"`
	GroupPic  string `db:"group_pic"`
	CreatedBy string `db:"created_by"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

type memberRow struct {
	GroupID string `db:"group_id"`
	UserID  string `db:"user_id"`
	IsAdmin bool   `db:"is_admin"`
}

// Store is a groups.Repo over the chat_groups and group_members tables.
type Store struct {
	db *sqlx.DB
}

// New returns a store over an already migrated database.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, group *groups.Group) error {
	return sqlutil.WithTransaction(s.db, func(txn *sqlx.Tx) error {
		_, err := txn.ExecContext(ctx, txn.Rebind(`
			INSERT INTO chat_groups (group_id, name, group_pic, created_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`),
			group.ID, group.Name, group.GroupPic, group.CreatedBy, group.CreatedAt.UnixMilli(), group.UpdatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert group %s: %w", group.ID, err)
		}
		for _, userID := range group.Members {
			if err := insertMember(ctx, txn, group.ID, userID, group.IsAdmin(userID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, groupID string) (*groups.Group, error) {
	var row groupRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT group_id, name, group_pic, created_by, created_at, updated_at FROM chat_groups WHERE group_id = ?`), groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, relayerrors.Wrapf(relayerrors.ErrGroupNotFound, "group %s", groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("select group %s: %w", groupID, err)
	}
	result, err := s.withMembers(ctx, []groupRow{row})
	if err != nil {
		return nil, err
	}
	return result[0], nil
}

func (s *Store) ListForUser(ctx context.Context, userID string) ([]*groups.Group, error) {
	var rows []groupRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT g.group_id, g.name, g.group_pic, g.created_by, g.created_at, g.updated_at
		FROM chat_groups g JOIN group_members m ON m.group_id = g.group_id
		WHERE m.user_id = ?
		ORDER BY g.updated_at DESC, g.group_id ASC`), userID)
	if err != nil {
		return nil, fmt.Errorf("select groups of %s: %w", userID, err)
	}
	return s.withMembers(ctx, rows)
}

func (s *Store) AddMembers(ctx context.Context, groupID string, userIDs []string, at time.Time) (*groups.Group, error) {
	err := sqlutil.WithTransaction(s.db, func(txn *sqlx.Tx) error {
		if err := touch(ctx, txn, groupID, at); err != nil {
			return err
		}
		for _, userID := range userIDs {
			if userID == "" {
				continue
			}
			var n int
			if err := txn.GetContext(ctx, &n, txn.Rebind(`SELECT COUNT(*) FROM group_members WHERE group_id = ? AND user_id = ?`), groupID, userID); err != nil {
				return err
			}
			if n > 0 {
				continue
			}
			if err := insertMember(ctx, txn, groupID, userID, false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, groupID)
}

func (s *Store) RemoveMember(ctx context.Context, groupID, userID string, at time.Time) (*groups.Group, bool, error) {
	var removed bool
	err := sqlutil.WithTransaction(s.db, func(txn *sqlx.Tx) error {
		res, err := txn.ExecContext(ctx, txn.Rebind(`DELETE FROM group_members WHERE group_id = ? AND user_id = ?`), groupID, userID)
		if err != nil {
			return fmt.Errorf("delete member %s of group %s: %w", userID, groupID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = n > 0
		if removed {
			return touch(ctx, txn, groupID, at)
		}
		var exists int
		if err := txn.GetContext(ctx, &exists, txn.Rebind(`SELECT COUNT(*) FROM chat_groups WHERE group_id = ?`), groupID); err != nil {
			return err
		}
		if exists == 0 {
			return relayerrors.Wrapf(relayerrors.ErrGroupNotFound, "group %s", groupID)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	g, err := s.Get(ctx, groupID)
	return g, removed, err
}

// withMembers converts rows to groups and loads their members in one query.
func (s *Store) withMembers(ctx context.Context, rows []groupRow) ([]*groups.Group, error) {
	result := make([]*groups.Group, 0, len(rows))
	if len(rows) == 0 {
		return result, nil
	}
	byID := make(map[string]*groups.Group, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		g := &groups.Group{
			ID:        r.GroupID,
			Name:      r.Name,
			GroupPic:  r.GroupPic,
			Members:   []string{},
			Admins:    []string{},
			CreatedBy: r.CreatedBy,
			CreatedAt: time.UnixMilli(r.CreatedAt),
			UpdatedAt: time.UnixMilli(r.UpdatedAt),
		}
		result = append(result, g)
		byID[g.ID] = g
		ids = append(ids, g.ID)
	}

	query, args, err := sqlx.In(`SELECT group_id, user_id, is_admin FROM group_members WHERE group_id IN (?) ORDER BY user_id`, ids)
	if err != nil {
		return nil, err
	}
	var members []memberRow
	if err := s.db.SelectContext(ctx, &members, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select group members: %w", err)
	}
	for _, m := range members {
		g, ok := byID[m.GroupID]
		if !ok {
			continue
		}
		g.Members = append(g.Members, m.UserID)
		if m.IsAdmin {
			g.Admins = append(g.Admins, m.UserID)
		}
	}
	return result, nil
}

func insertMember(ctx context.Context, txn *sqlx.Tx, groupID, userID string, admin bool) error {
	_, err := txn.ExecContext(ctx, txn.Rebind(`INSERT INTO group_members (group_id, user_id, is_admin) VALUES (?, ?, ?)`), groupID, userID, admin)
	if err != nil {
		return fmt.Errorf("insert member %s of group %s: %w", userID, groupID, err)
	}
	return nil
}

func touch(ctx context.Context, txn *sqlx.Tx, groupID string, at time.Time) error {
	res, err := txn.ExecContext(ctx, txn.Rebind(`UPDATE chat_groups SET updated_at = ? WHERE group_id = ?`), at.UnixMilli(), groupID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return relayerrors.Wrapf(relayerrors.ErrGroupNotFound, "group %s", groupID)
	}
	return nil
}
