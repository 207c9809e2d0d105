package config

import "path/filepath"

const (
	PresenceBackendMemory = "memory"
	PresenceBackendBolt   = "bolt"
	PresenceBackendSQL    = "sql"
)

type Storage struct{}

var _ StorageConfig = Storage{}

// GetDBDriver returns "sqlite" or "postgres".
func (Storage) GetDBDriver() string {
	return GetEnv("DB_DRIVER", "sqlite")
}

func (Storage) GetDBDSN() string {
	return GetEnv("DB_DSN", filepath.Join(EnvVars{}.GetDataFolder(), "relay.db"))
}

func (Storage) GetPresenceBackend() string {
	return GetEnv("PRESENCE_BACKEND", PresenceBackendMemory)
}

func (Storage) GetPresenceBoltPath() string {
	return GetEnv("PRESENCE_BOLT_PATH", filepath.Join(EnvVars{}.GetDataFolder(), "presence.bolt"))
}
