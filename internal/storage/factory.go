package storage

import "vrptune/internal/config"

// NewStore builds an uninitialized store for the configured backend.
func NewStore(out config.OutputConfig) (Store, error) {
	switch out.Store {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if out.DBPath == "" {
			return nil, config.Errorf("output.db_path", "required for the sqlite store")
		}
		return newSQLiteStore(out.DBPath)
	default:
		return nil, config.Errorf("output.store", "unsupported backend %q", out.Store)
	}
}

// CloseIfSupported releases stores that hold a database handle.
func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
