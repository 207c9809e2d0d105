package sessions

import (
	"time"

	"github.com/google/uuid"
)

// Session is one authenticated real-time connection. It lives from the
// successful handshake until the socket closes.
type Session struct {
	ID          string    // Transport session identifier (UUID)
	UserID      string    // User the connection authenticated as
	ConnectedAt time.Time // When the connection was admitted
}

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// New creates a session for userID with a fresh transport id.
func New(userID string) *Session {
	return &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		ConnectedAt: NowTimeFunc(),
	}
}
