package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

const indexFileName = "index.json"

var fileJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// FileStore keeps one JSON record per entity plus an index file mapping
// entity to cursor/last-updated. Each record holds the cursor and the item
// history in a single document written via temp-file-then-rename, so a crash
// mid-commit leaves either the fully old or fully new state, never a mix.
// The index is a derived convenience for listing; record files are the truth.
type FileStore struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	index map[string]Meta
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithNow overrides the clock, used in tests.
func WithNow(now func() time.Time) FileOption {
	return func(fs *FileStore) {
		if now != nil {
			fs.now = now
		}
	}
}

// OpenFile opens (creating if needed) a file-backed store rooted at dir.
// A missing or unreadable index is rebuilt from the record files.
func OpenFile(dir string, opts ...FileOption) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state: create dir: %w", err)
	}

	fs := &FileStore{
		dir: dir,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(fs)
	}

	if err := fs.loadIndex(); err != nil {
		if err := fs.rebuildIndex(); err != nil {
			return nil, err
		}
	}
	return fs, nil
}

func (fs *FileStore) Load(_ context.Context, entityID string) (*Record, error) {
	data, err := os.ReadFile(fs.recordPath(entityID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("state: read record %s: %w", entityID, err)
	}

	var rec Record
	if err := fileJSON.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("state: parse record %s: %w", entityID, err)
	}
	return &rec, nil
}

func (fs *FileStore) Commit(ctx context.Context, up Update) error {
	if up.EntityID == "" {
		return errors.New("state: entity id is required")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	prev, err := fs.Load(ctx, up.EntityID)
	if err != nil {
		return err
	}

	rec := Record{
		EntityID:    up.EntityID,
		LastUpdated: fs.now().UTC(),
		Snapshot:    up.Snapshot,
		Items:       merge(nil, up.Items),
	}
	if prev != nil {
		rec.Cursor = nextCursor(prev.Cursor, up.Cursor)
		rec.Items = merge(prev.Items, up.Items)
	} else {
		rec.Cursor = up.Cursor
	}

	if err := fs.writeRecord(rec); err != nil {
		return err
	}

	fs.index[up.EntityID] = Meta{
		EntityID:    rec.EntityID,
		Cursor:      rec.Cursor,
		LastUpdated: rec.LastUpdated,
		ItemCount:   len(rec.Items),
	}
	return fs.writeIndex()
}

func (fs *FileStore) List(_ context.Context) ([]Meta, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	metas := make([]Meta, 0, len(fs.index))
	for id, m := range fs.index {
		m.EntityID = id
		metas = append(metas, m)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].EntityID < metas[j].EntityID })
	return metas, nil
}

func (fs *FileStore) Delete(_ context.Context, entityID string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.recordPath(entityID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("state: delete record %s: %w", entityID, err)
	}
	delete(fs.index, entityID)
	return fs.writeIndex()
}

func (fs *FileStore) Close() error { return nil }

func (fs *FileStore) writeRecord(rec Record) error {
	data, err := fileJSON.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("state: encode record %s: %w", rec.EntityID, err)
	}
	return atomicWrite(fs.recordPath(rec.EntityID), data)
}

func (fs *FileStore) writeIndex() error {
	data, err := fileJSON.MarshalIndent(indexFile{Entities: fs.index}, "", "  ")
	if err != nil {
		return fmt.Errorf("state: encode index: %w", err)
	}
	return atomicWrite(filepath.Join(fs.dir, indexFileName), data)
}

func (fs *FileStore) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(fs.dir, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			// First run, or the index was lost; rebuild from records.
			return fs.rebuildIndex()
		}
		return err
	}

	var idx indexFile
	if err := fileJSON.Unmarshal(data, &idx); err != nil {
		return err
	}
	if idx.Entities == nil {
		idx.Entities = make(map[string]Meta)
	}
	fs.index = idx.Entities
	return nil
}

// rebuildIndex scans record files. Records are the source of truth, so a
// stale or corrupt index is always recoverable.
func (fs *FileStore) rebuildIndex() error {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return fmt.Errorf("state: scan dir: %w", err)
	}

	fs.index = make(map[string]Meta)
	for _, entry := range entries {
		name := entry.Name()
		if name == indexFileName || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(fs.dir, name))
		if err != nil {
			continue
		}
		var rec Record
		if err := fileJSON.Unmarshal(data, &rec); err != nil || rec.EntityID == "" {
			continue
		}
		fs.index[rec.EntityID] = Meta{
			EntityID:    rec.EntityID,
			Cursor:      rec.Cursor,
			LastUpdated: rec.LastUpdated,
			ItemCount:   len(rec.Items),
		}
	}
	return fs.writeIndex()
}

func (fs *FileStore) recordPath(entityID string) string {
	return filepath.Join(fs.dir, sanitizeFileName(entityID)+".json")
}

type indexFile struct {
	Entities map[string]Meta `json:"entities"`
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: write temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("state: commit %s: %w", path, err)
	}
	return nil
}

// sanitizeFileName maps an entity key to a filesystem-safe record name.
func sanitizeFileName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
