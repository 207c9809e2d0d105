package config

import "time"

type Config interface {
	EnvConfig
	CorsConfig
	SecurityConfig
	SignalingConfig
	StorageConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDataFolder() string
	GetEnv() string
	GetLogLevel() string
	GetSentryDSN() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type SignalingConfig interface {
	GetInstanceID() string
	GetSendQueueSize() int
	GetPingInterval() time.Duration
	GetWriteTimeout() time.Duration
	GetMaxMessageBytes() int64
	GetMembershipCacheTTL() time.Duration
	GetEndCallsOnDisconnect() bool
}

type StorageConfig interface {
	GetDBDriver() string
	GetDBDSN() string
	GetPresenceBackend() string
	GetPresenceBoltPath() string
}

type mainConfig struct {
	EnvVars
	Cors
	Security
	Signaling
	Storage
}

// New returns the process configuration. Values come from the environment,
// then from the INI file named by CONFIG_FILE, then from built-in defaults.
func New() (Config, error) {
	if path := GetEnv(configFileVar, ""); path != "" {
		if err := LoadFile(path); err != nil {
			return nil, err
		}
	}
	return mainConfig{}, nil
}
