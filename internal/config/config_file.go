package config

import (
	"fmt"
	"strings"
	"sync"

	"gopkg.in/ini.v1"
)

var (
	fileLock   sync.RWMutex
	fileValues map[string]string
)

// LoadFile reads an INI file whose default section holds KEY = value pairs
// using the same names as the environment variables. Inline "#" comments are
// stripped. Loading replaces any previously loaded file.
func LoadFile(path string) error {
	cfg, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}

	values := make(map[string]string)
	for _, key := range cfg.Section("").Keys() {
		value := key.String()
		if idx := strings.Index(value, "#"); idx >= 0 {
			value = value[:idx]
		}
		values[strings.ToUpper(key.Name())] = strings.TrimSpace(value)
	}

	fileLock.Lock()
	fileValues = values
	fileLock.Unlock()
	return nil
}

// ResetFile forgets any loaded config file.
func ResetFile() {
	fileLock.Lock()
	fileValues = nil
	fileLock.Unlock()
}

func fileValue(key string) (string, bool) {
	fileLock.RLock()
	defer fileLock.RUnlock()
	value, ok := fileValues[key]
	if !ok || value == "" {
		return "", false
	}
	return value, true
}
