//go:build !sqlite

package storage

import "vrptune/internal/config"

func newSQLiteStore(string) (Store, error) {
	return nil, config.Errorf("output.store", "sqlite backend unavailable in this build; rebuild with -tags sqlite")
}
