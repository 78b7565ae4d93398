package database

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/NicoCuadrado/Barrio-seguro/internal/config"
)

// Opener creates a Store for a backend.
type Opener func(ctx context.Context, cfg *config.DatabaseConfig) (Store, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Opener)
)

// RegisterBackend registers a Store constructor under a name.
// This is called by the backend packages to avoid import cycles.
func RegisterBackend(name string, opener Opener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = opener
}

// BackendName picks the backend for a database URL: postgres URLs use PostgreSQL,
// anything else is treated as a SQLite file path.
func BackendName(url string) string {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

// Open connects to the backend selected by cfg.URL.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (Store, error) {
	name := BackendName(cfg.URL)

	backendsMu.RLock()
	opener, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (backend not registered)", ErrUnknownBackend, name)
	}

	store, err := opener(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s backend: %w", name, err)
	}
	return store, nil
}
