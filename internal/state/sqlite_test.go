package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mzaremba/driftwatch/internal/source"
)

func TestSQLiteStore_RecordSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Commit(ctx, Update{
		EntityID: "webpage:news",
		Items:    []source.Item{item("a"), item("b")},
		Snapshot: []string{"a", "b"},
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s.Close() }()

	rec, err := s.Load(ctx, "webpage:news")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec == nil || len(rec.Items) != 2 {
		t.Fatalf("state lost across reopen: %+v", rec)
	}
	if len(rec.Snapshot) != 2 {
		t.Errorf("snapshot keys lost: %v", rec.Snapshot)
	}
	if rec.Items[0].Attrs["text"] == "" {
		t.Errorf("item attributes lost: %v", rec.Items[0].Attrs)
	}
}

func TestSQLiteStore_MigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	for n := 0; n < 3; n++ {
		s, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
}

func TestSQLiteStore_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.db.Exec("UPDATE metadata SET value = '99' WHERE key = 'schema_version'"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = s.Close()

	if _, err := OpenSQLite(path); err == nil {
		t.Fatal("expected error for schema newer than supported")
	}
}

func TestSQLiteStore_DeleteCascadesItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	if err := s.Commit(ctx, Update{EntityID: "x:acct", Cursor: "1", Items: []source.Item{item("1")}}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := s.Delete(ctx, "x:acct"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM items WHERE entity_id = 'x:acct'").Scan(&count); err != nil {
		t.Fatalf("count items: %v", err)
	}
	if count != 0 {
		t.Errorf("items not cascaded on delete, %d left", count)
	}
}
