// Package presence tracks which transport session currently represents each
// online user. At most one entry exists per user; the latest connection wins
// and the previous one is superseded without being closed.
package presence

import (
	"context"
	"fmt"
	"sort"

	"github.com/jrsteele09/go-call-relay/sessions"
)

// Table is the presence service used by the signaling relay.
type Table struct {
	store      Store
	instanceID string
}

// NewTable creates a presence table over store. instanceID tags the entries
// written by this process so shared stores can tell local sessions apart.
func NewTable(store Store, instanceID string) *Table {
	return &Table{
		store:      store,
		instanceID: instanceID,
	}
}

// SetSession records sess as the live session of its user, replacing any
// previous entry.
func (t *Table) SetSession(ctx context.Context, sess *sessions.Session) error {
	err := t.store.Put(ctx, Entry{
		UserID:      sess.UserID,
		SessionID:   sess.ID,
		InstanceID:  t.instanceID,
		ConnectedAt: sess.ConnectedAt,
	})
	if err != nil {
		return fmt.Errorf("presence: set session for %s: %w", sess.UserID, err)
	}
	return nil
}

// GetSession returns the session id currently registered for userID.
func (t *Table) GetSession(ctx context.Context, userID string) (string, bool, error) {
	entry, ok, err := t.Lookup(ctx, userID)
	if err != nil || !ok {
		return "", false, err
	}
	return entry.SessionID, true, nil
}

// Lookup returns the full presence entry for userID.
func (t *Table) Lookup(ctx context.Context, userID string) (Entry, bool, error) {
	if userID == "" {
		return Entry{}, false, nil
	}
	entry, ok, err := t.store.Get(ctx, userID)
	if err != nil {
		return Entry{}, false, fmt.Errorf("presence: get %s: %w", userID, err)
	}
	return entry, ok, nil
}

// IsLocal reports whether entry belongs to a connection held by this process.
func (t *Table) IsLocal(entry Entry) bool {
	return entry.InstanceID == t.instanceID
}

// RemoveSession deletes the entry for userID whatever session it points at.
func (t *Table) RemoveSession(ctx context.Context, userID string) error {
	if err := t.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("presence: remove %s: %w", userID, err)
	}
	return nil
}

// ReleaseSession deletes the entry for sess.UserID only if it still points at
// sess. A superseded connection closing therefore leaves the newer entry alone.
func (t *Table) ReleaseSession(ctx context.Context, sess *sessions.Session) (bool, error) {
	removed, err := t.store.DeleteIfSession(ctx, sess.UserID, sess.ID)
	if err != nil {
		return false, fmt.Errorf("presence: release %s: %w", sess.UserID, err)
	}
	return removed, nil
}

// OnlineUsers returns the sorted ids of every user with an entry.
func (t *Table) OnlineUsers(ctx context.Context) ([]string, error) {
	entries, err := t.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("presence: list: %w", err)
	}
	users := make([]string, 0, len(entries))
	for _, e := range entries {
		users = append(users, e.UserID)
	}
	sort.Strings(users)
	return users, nil
}
