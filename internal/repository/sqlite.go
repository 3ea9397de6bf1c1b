package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/MarcDasilva/MyClientData/internal/face"
	"github.com/MarcDasilva/MyClientData/internal/logging"
	"github.com/MarcDasilva/MyClientData/internal/retry"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS faces (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT    NOT NULL UNIQUE,
	name       TEXT    NOT NULL,
	info       TEXT    NOT NULL,
	embedding  TEXT    NOT NULL,
	image_name TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_faces_name ON faces(name);
`

// SQLiteStore keeps face records in a SQLite file. Embeddings are stored as
// JSON number arrays.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
	policy retry.Policy
}

// OpenSQLite opens (creating if needed) the database at path and ensures the schema.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}
	logger.Info("opened sqlite store", zap.String("path", path))
	return &SQLiteStore{db: db, logger: logger.Named("sqlite_store"), policy: retry.DefaultPolicy}, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, rec *face.Record) error {
	if err := prepare(rec); err != nil {
		return err
	}
	emb, err := json.Marshal(rec.Embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	id := uuid.NewString()
	err = retry.Do(ctx, s.policy, s.logger, "sqlite.insert", logging.RequestIDFromContext(ctx), func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO faces(id, name, info, embedding, image_name, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
			id, rec.Name, rec.Info, string(emb), rec.ImageName, rec.CreatedAt.UnixNano())
		return err
	})
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

func (s *SQLiteStore) All(ctx context.Context) ([]face.Record, error) {
	var out []face.Record
	err := retry.Do(ctx, s.policy, s.logger, "sqlite.all", logging.RequestIDFromContext(ctx), func() error {
		rows, err := s.db.QueryContext(ctx, `SELECT id, name, info, embedding, image_name, created_at FROM faces ORDER BY seq`)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var (
				rec     face.Record
				emb     string
				created int64
			)
			if err := rows.Scan(&rec.ID, &rec.Name, &rec.Info, &emb, &rec.ImageName, &created); err != nil {
				return err
			}
			if err := json.Unmarshal([]byte(emb), &rec.Embedding); err != nil {
				return fmt.Errorf("decode embedding of %s: %w", rec.ID, err)
			}
			rec.CreatedAt = time.Unix(0, created).UTC()
			out = append(out, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []face.Record{}
	}
	return out, nil
}

func (s *SQLiteStore) Close(context.Context) error {
	return s.db.Close()
}
