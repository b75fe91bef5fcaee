package internal

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLCharacterStore {
	t.Helper()
	store, err := NewSQLiteCharacterStore(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLCharacterStore_Merge(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := store.Write(ctx, map[string]string{"Mango": "Falco"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Write(ctx, map[string]string{"Lucky": "Fox"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	picks, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(picks) != 2 || picks["Mango"] != "Falco" || picks["Lucky"] != "Fox" {
		t.Errorf("unexpected picks: %v", picks)
	}
}

func TestSQLCharacterStore_Overwrite(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	store.Write(ctx, map[string]string{"Mango": "Falco", "Zain": "Marth"})
	if err := store.Write(ctx, map[string]string{"Mango": "Fox"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	picks, _ := store.Read(ctx)
	if picks["Mango"] != "Fox" {
		t.Errorf("expected Mango=Fox, got %q", picks["Mango"])
	}
	if picks["Zain"] != "Marth" {
		t.Errorf("expected Zain untouched, got %q", picks["Zain"])
	}
}

func TestSQLCharacterStore_EmptyWrite(t *testing.T) {
	store := newTestSQLiteStore(t)

	if err := store.Write(context.Background(), map[string]string{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	picks, err := store.Read(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(picks) != 0 {
		t.Errorf("expected empty cache, got %v", picks)
	}
}

func TestSQLCharacterStore_PersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	first, err := NewSQLiteCharacterStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.Write(ctx, map[string]string{"Hungrybox": "Jigglypuff"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	first.Close()

	second, err := NewSQLiteCharacterStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	picks, _ := second.Read(ctx)
	if picks["Hungrybox"] != "Jigglypuff" {
		t.Errorf("expected persisted pick, got %v", picks)
	}
}

func TestSQLCharacterStore_UpsertQuery(t *testing.T) {
	pg := &SQLCharacterStore{dialect: StorePostgres}
	if !strings.Contains(pg.upsertQuery(), "$1") {
		t.Error("postgres upsert should use numbered placeholders")
	}

	lite := &SQLCharacterStore{dialect: StoreSQLite}
	if !strings.Contains(lite.upsertQuery(), "?") {
		t.Error("sqlite upsert should use ? placeholders")
	}
}

func TestOpenCharacterStore_SQLiteDefault(t *testing.T) {
	cfg := &Config{CharacterStore: StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "c.db")}

	store, err := OpenCharacterStore(cfg, &CacheManager{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	if _, ok := store.(*SQLCharacterStore); !ok {
		t.Errorf("expected SQLCharacterStore, got %T", store)
	}
}
