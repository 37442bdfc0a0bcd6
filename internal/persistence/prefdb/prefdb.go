package prefdb

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	KindJSON   = "json"
	KindSQLite = "sqlite"
)

// Backend is a durable preference store the server can close on shutdown.
type Backend interface {
	Load() (map[string]bool, error)
	Save(prefs map[string]bool) error
	Close() error
}

// Open returns the backend of the given kind rooted at dataDir.
func Open(kind, dataDir string) (Backend, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, ErrEmptyPath
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindJSON:
		return NewFile(filepath.Join(dataDir, "preferences.json"))
	case KindSQLite:
		return OpenSQLite(filepath.Join(dataDir, "autorefill.sqlite"))
	default:
		return nil, fmt.Errorf("unknown preference store %q (want %s or %s)", kind, KindJSON, KindSQLite)
	}
}
