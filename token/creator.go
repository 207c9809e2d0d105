package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// UserIDClaim is the claim carrying the user id of a session token.
const UserIDClaim = "userId"

// Creator issues session tokens. The relay itself never logs anyone in; the
// creator exists for the developer token tool and for tests.
type Creator struct {
	signer Signer
	ttl    time.Duration
}

// NewCreator creates a session token creator signing with signer. Tokens
// expire ttl after they are issued.
func NewCreator(signer Signer, ttl time.Duration) *Creator {
	return &Creator{
		signer: signer,
		ttl:    ttl,
	}
}

// CreateSessionToken returns a signed token for userID and its expiry.
func (c *Creator) CreateSessionToken(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("userID is required")
	}
	now := NowTimeFunc()
	expiry := now.Add(c.ttl)
	claims := jwt.MapClaims{
		UserIDClaim: userID,
		"sub":       userID,
		"iat":       now.Unix(),
		"exp":       expiry.Unix(),
		"jti":       uuid.NewString(),
	}
	signed, err := c.signer.Sign(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expiry, nil
}
