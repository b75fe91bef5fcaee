package internal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	_ "github.com/lib/pq"
)

// SQLCharacterStore persists picks in a character_cache table. The same code
// serves the local sqlite file and a shared postgres database; only the
// placeholder syntax differs.
type SQLCharacterStore struct {
	db      *sql.DB
	dialect string
}

func NewSQLiteCharacterStore(path string) (*SQLCharacterStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)

	return newSQLCharacterStore(db, StoreSQLite)
}

func NewPostgresCharacterStore(cfg *Config) (*SQLCharacterStore, error) {
	db, err := sql.Open("postgres", cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return newSQLCharacterStore(db, StorePostgres)
}

func newSQLCharacterStore(db *sql.DB, dialect string) (*SQLCharacterStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	store := &SQLCharacterStore{db: db, dialect: dialect}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLCharacterStore) migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS character_cache (
			player_name    TEXT PRIMARY KEY,
			character_name TEXT NOT NULL,
			updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create character_cache table: %w", err)
	}
	return nil
}

func (s *SQLCharacterStore) Read(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT player_name, character_name FROM character_cache`)
	if err != nil {
		return nil, fmt.Errorf("read character cache: %w", err)
	}
	defer rows.Close()

	picks := make(map[string]string)
	for rows.Next() {
		var name, character string
		if err := rows.Scan(&name, &character); err != nil {
			return nil, fmt.Errorf("scan character cache row: %w", err)
		}
		picks[name] = character
	}
	return picks, rows.Err()
}

// Write upserts every pick in one transaction; rows not named in picks are
// left untouched.
func (s *SQLCharacterStore) Write(ctx context.Context, picks map[string]string) error {
	if len(picks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin character cache write: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.upsertQuery())
	if err != nil {
		return fmt.Errorf("prepare character cache upsert: %w", err)
	}
	defer stmt.Close()

	for name, character := range picks {
		if _, err := stmt.ExecContext(ctx, name, character); err != nil {
			return fmt.Errorf("upsert pick for %s: %w", name, err)
		}
	}

	return tx.Commit()
}

func (s *SQLCharacterStore) upsertQuery() string {
	if s.dialect == StorePostgres {
		return `
			INSERT INTO character_cache (player_name, character_name)
			VALUES ($1, $2)
			ON CONFLICT (player_name) DO UPDATE SET
				character_name = EXCLUDED.character_name,
				updated_at = CURRENT_TIMESTAMP
		`
	}
	return `
		INSERT INTO character_cache (player_name, character_name)
		VALUES (?, ?)
		ON CONFLICT (player_name) DO UPDATE SET
			character_name = excluded.character_name,
			updated_at = CURRENT_TIMESTAMP
	`
}

func (s *SQLCharacterStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// OpenCharacterStore picks the backing store named by CHARACTER_STORE.
func OpenCharacterStore(cfg *Config, cache *CacheManager) (CharacterStore, error) {
	switch cfg.CharacterStore {
	case StorePostgres:
		store, err := NewPostgresCharacterStore(cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoreRedis:
		if !cache.Enabled() {
			return nil, fmt.Errorf("redis character store requires the cache to be enabled")
		}
		return NewRedisCharacterStore(cache), nil
	default:
		store, err := NewSQLiteCharacterStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}
