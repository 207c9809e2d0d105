package presence

import (
	"context"
	"time"
)

// Entry maps a user to the transport session currently representing them.
type Entry struct {
	UserID      string
	SessionID   string
	InstanceID  string // Relay process owning the connection
	ConnectedAt time.Time
}

// Store is the key-value seam behind the presence Table. Implementations must
// be safe for concurrent use; Put overwrites and DeleteIfSession is atomic.
type Store interface {
	// Put creates or replaces the entry for entry.UserID
	Put(ctx context.Context, entry Entry) error

	// Get returns the entry for userID; ok is false when there is none
	Get(ctx context.Context, userID string) (entry Entry, ok bool, err error)

	// Delete removes the entry for userID unconditionally
	Delete(ctx context.Context, userID string) error

	// DeleteIfSession removes the entry for userID only while it still
	// points at sessionID, reporting whether it did
	DeleteIfSession(ctx context.Context, userID, sessionID string) (bool, error)

	// List returns every entry in no particular order
	List(ctx context.Context) ([]Entry, error)
}
