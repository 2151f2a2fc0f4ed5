package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"clawparadise.ai/internal/persistence/entitydb"
	"clawparadise.ai/internal/sim/island"
)

// entityStore is what the server needs from a store backend beyond the
// engine's own interface.
type entityStore interface {
	island.Store
	Close() error
}

type memBackend struct{ *island.MemStore }

func (memBackend) Close() error { return nil }

// openEntityStore picks the backend from CP_STORE_BACKEND (sqlite|memory).
// The sqlite file defaults to <data>/db/island.sqlite.
func openEntityStore(dataDir, dbPath string, logger *log.Logger) (entityStore, *entitydb.SQLiteStore, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("CP_STORE_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "memory", "mem":
		logger.Printf("entity store: memory (state is lost on restart)")
		return memBackend{island.NewMemStore()}, nil, nil
	case "sqlite":
		path := strings.TrimSpace(dbPath)
		if path == "" {
			path = filepath.Join(dataDir, "db", "island.sqlite")
		}
		db, err := entitydb.OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		logger.Printf("entity store: sqlite %s", path)
		return db, db, nil
	default:
		return nil, nil, fmt.Errorf("unsupported CP_STORE_BACKEND: %s", backend)
	}
}
