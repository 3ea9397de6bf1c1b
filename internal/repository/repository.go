// Package repository persists face records. Three interchangeable stores are
// provided: MongoDB, PostgreSQL (gorm + pgvector) and SQLite.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MarcDasilva/MyClientData/internal/config"
	"github.com/MarcDasilva/MyClientData/internal/face"
)

// ErrInvalidRecord is returned when a record is missing required fields.
var ErrInvalidRecord = errors.New("invalid face record")

// Store is the contract shared by every backend.
type Store interface {
	// Insert appends rec and fills in its ID and CreatedAt.
	Insert(ctx context.Context, rec *face.Record) error
	// All returns every record in store-native (insertion) order.
	All(ctx context.Context) ([]face.Record, error)
	Close(ctx context.Context) error
}

func prepare(rec *face.Record) error {
	if rec == nil || rec.Name == "" || len(rec.Embedding) == 0 {
		return ErrInvalidRecord
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return nil
}

// Open connects to the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		return OpenMongo(ctx, cfg.Mongo, logger)
	case config.DriverPostgres:
		db, err := OpenPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		store := NewPostgresStore(db, logger)
		if err := store.AutoMigrate(ctx); err != nil {
			store.Close(ctx)
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
		return store, nil
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.SQLite.Path, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
