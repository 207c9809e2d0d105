package config

import "time"

type SecurityConfig interface {
	GetJWTSecret() string
	GetSessionCookieName() string
	GetMaxSessionAge() time.Duration
}

type Security struct{}

var _ SecurityConfig = Security{}

func (Security) GetJWTSecret() string {
	return GetEnv("JWT_SECRET", "")
}

func (Security) GetSessionCookieName() string {
	return GetEnv("SESSION_COOKIE_NAME", "jwt")
}

func (Security) GetMaxSessionAge() time.Duration {
	return GetEnvDuration("MAX_SESSION_AGE", 7*24*time.Hour)
}
