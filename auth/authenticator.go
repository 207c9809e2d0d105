// Package auth admits inbound connections by verifying the signed session
// token they present.
package auth

import (
	"errors"
	"net/http"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/jrsteele09/go-call-relay/token"
)

// Authenticator verifies session tokens carried in a cookie or a bearer
// Authorization header.
type Authenticator struct {
	signer     token.Signer
	cookieName string
}

// NewAuthenticator creates an authenticator verifying with signer. cookieName
// names the cookie checked before the Authorization header.
func NewAuthenticator(signer token.Signer, cookieName string) *Authenticator {
	return &Authenticator{
		signer:     signer,
		cookieName: cookieName,
	}
}

// Authenticate extracts the session token from the raw request headers and
// returns the user id it was issued for.
func (a *Authenticator) Authenticate(header http.Header) (string, error) {
	raw, err := a.extractToken(header)
	if err != nil {
		return "", err
	}
	return a.VerifyToken(raw)
}

// VerifyToken checks signature and expiry of raw and returns its user id.
func (a *Authenticator) VerifyToken(raw string) (string, error) {
	parsed, err := jwtlib.ParseWithClaims(raw, jwtlib.MapClaims{}, a.signer.GetVerificationKey,
		jwtlib.WithValidMethods([]string{a.signer.GetSigningMethod().Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(token.NowTimeFunc),
	)
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return "", newError(ErrTokenExpired, "session token expired")
		}
		return "", newError(ErrInvalidToken, "%v", err)
	}

	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok || !parsed.Valid {
		return "", newError(ErrInvalidToken, "unreadable claims")
	}
	if userID, _ := claims[token.UserIDClaim].(string); userID != "" {
		return userID, nil
	}
	if sub, _ := claims["sub"].(string); sub != "" {
		return sub, nil
	}
	return "", newError(ErrInvalidToken, "token carries no user id")
}

func (a *Authenticator) extractToken(header http.Header) (string, error) {
	if a.cookieName != "" {
		req := http.Request{Header: header}
		if c, err := req.Cookie(a.cookieName); err == nil && c.Value != "" {
			return c.Value, nil
		}
	}

	authz := strings.TrimSpace(header.Get("Authorization"))
	if authz == "" {
		return "", newError(ErrNoCredentials, "no %s cookie or bearer token", a.cookieName)
	}
	scheme, raw, found := strings.Cut(authz, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
		return "", newError(ErrInvalidToken, "malformed authorization header")
	}
	return strings.TrimSpace(raw), nil
}
