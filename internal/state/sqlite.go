package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "embed"

	"github.com/mzaremba/driftwatch/internal/source"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// SQLiteStore is the embedded-database backend. Each Commit runs in a single
// transaction, so the cursor and the item history can never diverge.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteNow overrides the clock, used in tests.
func WithSQLiteNow(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) {
		if now != nil {
			s.now = now
		}
	}
}

// OpenSQLite opens (creating if needed) a SQLite-backed store at path.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("state: path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("state: create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("state: open sqlite: %w", err)
	}
	// One connection keeps the foreign_keys pragma in effect for every
	// statement and sidesteps writer contention on the single db file.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("state: enable foreign keys: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SQLiteStore) Load(ctx context.Context, entityID string) (*Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		rec         Record
		lastUpdated string
		snapshot    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT entity_id, cursor, last_updated, snapshot
		FROM entities WHERE entity_id = ?
	`, entityID).Scan(&rec.EntityID, &rec.Cursor, &lastUpdated, &snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load entity %s: %w", entityID, err)
	}

	rec.LastUpdated, err = time.Parse(time.RFC3339Nano, lastUpdated)
	if err != nil {
		return nil, fmt.Errorf("state: parse last_updated: %w", err)
	}
	if snapshot.Valid && snapshot.String != "" {
		if err := fileJSON.Unmarshal([]byte(snapshot.String), &rec.Snapshot); err != nil {
			return nil, fmt.Errorf("state: parse snapshot keys: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, ordering_key, attributes
		FROM items WHERE entity_id = ?
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("state: load items %s: %w", entityID, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			it    source.Item
			attrs sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.OrderKey, &attrs); err != nil {
			return nil, fmt.Errorf("state: scan item: %w", err)
		}
		if attrs.Valid && attrs.String != "" {
			if err := fileJSON.Unmarshal([]byte(attrs.String), &it.Attrs); err != nil {
				return nil, fmt.Errorf("state: parse item attributes: %w", err)
			}
		}
		rec.Items = append(rec.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterate items: %w", err)
	}

	source.SortNewestFirst(rec.Items)
	return &rec, nil
}

func (s *SQLiteStore) Commit(ctx context.Context, up Update) error {
	if up.EntityID == "" {
		return errors.New("state: entity id is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: begin commit: %w", err)
	}

	var stored string
	err = tx.QueryRowContext(ctx,
		"SELECT cursor FROM entities WHERE entity_id = ?", up.EntityID,
	).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return fmt.Errorf("state: read cursor: %w", err)
	}
	cursor := nextCursor(stored, up.Cursor)

	var snapshotVal sql.NullString
	if up.Snapshot != nil {
		data, err := fileJSON.Marshal(up.Snapshot)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("state: encode snapshot keys: %w", err)
		}
		snapshotVal = sql.NullString{String: string(data), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (entity_id, cursor, last_updated, snapshot)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			cursor = excluded.cursor,
			last_updated = excluded.last_updated,
			snapshot = excluded.snapshot
	`, up.EntityID, cursor, s.now().UTC().Format(time.RFC3339Nano), snapshotVal)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("state: upsert entity: %w", err)
	}

	for _, it := range up.Items {
		var attrsVal sql.NullString
		if len(it.Attrs) > 0 {
			attrsVal = sql.NullString{String: string(it.AttrsJSON()), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO items (entity_id, item_id, ordering_key, attributes)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(entity_id, item_id) DO UPDATE SET
				ordering_key = excluded.ordering_key,
				attributes = excluded.attributes
		`, up.EntityID, it.ID, it.OrderKey, attrsVal)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("state: upsert item %s: %w", it.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Meta, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.entity_id, e.cursor, e.last_updated, COUNT(i.item_id)
		FROM entities e
		LEFT JOIN items i ON i.entity_id = e.entity_id
		GROUP BY e.entity_id
		ORDER BY e.entity_id
	`)
	if err != nil {
		return nil, fmt.Errorf("state: list entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var metas []Meta
	for rows.Next() {
		var (
			m           Meta
			lastUpdated string
		)
		if err := rows.Scan(&m.EntityID, &m.Cursor, &lastUpdated, &m.ItemCount); err != nil {
			return nil, fmt.Errorf("state: scan entity: %w", err)
		}
		m.LastUpdated, err = time.Parse(time.RFC3339Nano, lastUpdated)
		if err != nil {
			return nil, fmt.Errorf("state: parse last_updated: %w", err)
		}
		metas = append(metas, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterate entities: %w", err)
	}
	return metas, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, entityID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM entities WHERE entity_id = ?", entityID); err != nil {
		return fmt.Errorf("state: delete entity %s: %w", entityID, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: begin migration: %w", err)
	}

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("state: apply schema: %w", err)
	}

	var versionStr string
	err = tx.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&versionStr)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := tx.ExecContext(ctx, "INSERT INTO metadata(key, value) VALUES('schema_version', ?)", strconv.Itoa(schemaVersion)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("state: insert schema version: %w", err)
		}
		return tx.Commit()
	}
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("state: read schema version: %w", err)
	}

	version, err := strconv.Atoi(versionStr)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("state: parse schema version: %w", err)
	}
	if version > schemaVersion {
		_ = tx.Rollback()
		return fmt.Errorf("state: database schema version %d is newer than supported %d", version, schemaVersion)
	}

	return tx.Commit()
}
