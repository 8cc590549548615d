// Package records keeps finished stories and clips in SQLite, outside the
// cache's size and age rules.
package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nightlight-labs/lullaby/internal/logging"
)

var logger = logging.New("records")

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("record not found")

// Record is one durable piece of content.
type Record struct {
	ID          string
	Key         string
	Category    string
	Provider    string
	ContentType string
	Data        []byte
	Size        int64
	Attributes  map[string]string // request parameters, for display and lookup
	CreatedAt   time.Time
}

// ListOptions filters List.
type ListOptions struct {
	Category string // empty lists every category
	Limit    int    // 0 means no limit
}

// Store is a record store backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

const createRecordsTable = `
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	key TEXT NOT NULL,
	category TEXT NOT NULL,
	provider TEXT NOT NULL,
	content_type TEXT NOT NULL,
	data BLOB NOT NULL,
	size INTEGER NOT NULL,
	attributes TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	UNIQUE (key, category)
);
CREATE INDEX IF NOT EXISTS records_category_created ON records (category, created_at);
`

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create records dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open records db: %w", err)
	}
	// One writer at a time; async saves from concurrent fetches queue here.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createRecordsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate records db: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Save inserts a record, replacing any earlier record for the same key and
// category. A missing ID or timestamp is filled in.
func (s *Store) Save(ctx context.Context, r Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if r.Data == nil {
		r.Data = []byte{}
	}
	attrs, err := json.Marshal(r.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	if r.Attributes == nil {
		attrs = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, key, category, provider, content_type, data, size, attributes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (key, category) DO UPDATE SET
			provider = excluded.provider,
			content_type = excluded.content_type,
			data = excluded.data,
			size = excluded.size,
			attributes = excluded.attributes,
			created_at = excluded.created_at`,
		r.ID, r.Key, r.Category, r.Provider, r.ContentType, r.Data, int64(len(r.Data)), string(attrs), r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}

	logger.Debug("Saved record", "category", r.Category, "key", r.Key, "bytes", len(r.Data))
	return nil
}

// Find returns the record for key in category.
func (s *Store) Find(ctx context.Context, key, category string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, key, category, provider, content_type, data, size, attributes, created_at
		 FROM records WHERE key = ? AND category = ?`,
		key, category,
	)
	r, err := scanRecord(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find record: %w", err)
	}
	return r, nil
}

// List returns records newest first, without their payloads.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	query := `SELECT id, key, category, provider, content_type, NULL, size, attributes, created_at FROM records`
	var args []any
	if opts.Category != "" {
		query += ` WHERE category = ?`
		args = append(args, opts.Category)
	}
	query += ` ORDER BY created_at DESC, id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows, false)
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Count returns the number of records in category, or in total when
// category is empty.
func (s *Store) Count(ctx context.Context, category string) (int64, error) {
	var n int64
	var err error
	if category == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE category = ?`, category).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Delete removes the record for key in category.
func (s *Store) Delete(ctx context.Context, key, category string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE key = ? AND category = ?`, key, category)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner, withData bool) (*Record, error) {
	var (
		r         Record
		data      []byte
		attrs     string
		createdAt int64
	)
	if err := row.Scan(&r.ID, &r.Key, &r.Category, &r.Provider, &r.ContentType, &data, &r.Size, &attrs, &createdAt); err != nil {
		return nil, err
	}
	if withData {
		r.Data = data
	}
	if attrs != "" && attrs != "{}" {
		if err := json.Unmarshal([]byte(attrs), &r.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
	}
	r.CreatedAt = time.UnixMilli(createdAt)
	return &r, nil
}
