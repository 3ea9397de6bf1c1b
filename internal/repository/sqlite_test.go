package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/MarcDasilva/MyClientData/internal/config"
	"github.com/MarcDasilva/MyClientData/internal/face"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "faces.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })
	return store
}

func TestSQLiteEmptyStoreListsNothing(t *testing.T) {
	store := openTestSQLite(t)

	recs, err := store.All(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recs == nil || len(recs) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", recs)
	}
}

func TestSQLiteInsertPreservesOrderAndDuplicates(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()

	inputs := []face.Record{
		{Name: "Ann", Info: "first", Embedding: face.Embedding{0.1, 0.2}, ImageName: "images/Ann.jpg"},
		{Name: "Bob", Info: "second", Embedding: face.Embedding{0.3, 0.4}, ImageName: "images/Bob.jpg"},
		{Name: "Ann", Info: "third", Embedding: face.Embedding{0.5, 0.6}, ImageName: "images/Ann.jpg"},
	}
	for i := range inputs {
		if err := store.Insert(ctx, &inputs[i]); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if inputs[i].ID == "" {
			t.Fatalf("insert %d: id not assigned", i)
		}
	}

	recs, err := store.All(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, rec := range recs {
		want := inputs[i]
		if rec.ID != want.ID || rec.Name != want.Name || rec.Info != want.Info || rec.ImageName != want.ImageName {
			t.Fatalf("record %d: got %+v want %+v", i, rec, want)
		}
		if len(rec.Embedding) != 2 || rec.Embedding[0] != want.Embedding[0] || rec.Embedding[1] != want.Embedding[1] {
			t.Fatalf("record %d: embedding %v want %v", i, rec.Embedding, want.Embedding)
		}
		if rec.CreatedAt.IsZero() {
			t.Fatalf("record %d: created_at not persisted", i)
		}
	}
}

func TestSQLiteRejectsInvalidRecord(t *testing.T) {
	store := openTestSQLite(t)

	err := store.Insert(context.Background(), &face.Record{Name: "NoEmbedding"})
	if !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestOpenSelectsSQLite(t *testing.T) {
	cfg := config.StoreConfig{
		Driver: config.DriverSQLite,
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "faces.db")},
	}
	store, err := Open(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close(context.Background())

	if _, ok := store.(*SQLiteStore); !ok {
		t.Fatalf("expected *SQLiteStore, got %T", store)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.StoreConfig{Driver: "etcd"}, zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
