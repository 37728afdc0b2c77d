// Package store persists index documents in SQLite. Each record keeps the
// transformed document alongside its "~raw" snapshot so the original can be
// recovered without re-fetching it.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/reoring/apimeta"
)

//go:embed sql/*.sql
var schemas embed.FS

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("index document not found")

// Record is one stored index document.
type Record struct {
	ID        string
	SourceURL string
	Title     string // info.title of the original document
	Version   string // info.version of the original document
	Document  *apimeta.Document
	Raw       string
	CreatedAt int64
	UpdatedAt int64
}

// NewRecord builds a Record from an index document produced by
// apimeta.Transformer. The id is derived from sourceURL when empty.
func NewRecord(id, sourceURL string, index *apimeta.Document) (Record, error) {
	raw, ok := index.Get(apimeta.RawField)
	token, isString := raw.(string)
	if !ok || !isString {
		return Record{}, &apimeta.MissingFieldError{Field: apimeta.RawField}
	}
	if id == "" {
		if sourceURL == "" {
			return Record{}, errors.New("store: record needs an id or a source url")
		}
		id = apimeta.IndexID(sourceURL)
	}
	rec := Record{ID: id, SourceURL: sourceURL, Document: index, Raw: token}
	if info, ok := index.Get("info"); ok {
		if d, ok := info.(*apimeta.Document); ok {
			rec.Title = stringField(d, "title")
			rec.Version = stringField(d, "version")
		}
	}
	return rec, nil
}

func stringField(d *apimeta.Document, key string) string {
	v, _ := d.Get(key)
	s, _ := v.(string)
	return s
}

// Original decodes the stored "~raw" snapshot.
func (r Record) Original() (*apimeta.Document, error) {
	return apimeta.DecodeRaw(r.Raw)
}

// SQLiteStore implements index persistence on SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`PRAGMA synchronous=NORMAL`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Init creates tables. Safe to call repeatedly.
func (s *SQLiteStore) Init() error {
	entries, err := fs.ReadDir(schemas, "sql")
	if err != nil {
		return fmt.Errorf("read schema directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		stmt, err := fs.ReadFile(schemas, "sql/"+e.Name())
		if err != nil {
			return fmt.Errorf("read %s: %w", e.Name(), err)
		}
		if _, err := s.db.Exec(string(stmt)); err != nil {
			return fmt.Errorf("exec %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Put inserts rec or replaces the record with the same id, keeping its
// creation time.
func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	body, err := rec.Document.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal index document %s: %w", rec.ID, err)
	}
	now := s.now().Unix()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO index_documents (id, source_url, title, version, document, raw, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_url = excluded.source_url,
			title      = excluded.title,
			version    = excluded.version,
			document   = excluded.document,
			raw        = excluded.raw,
			updated_at = excluded.updated_at`,
		rec.ID, rec.SourceURL, rec.Title, rec.Version, string(body), rec.Raw, now, now)
	if err != nil {
		return fmt.Errorf("put %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the record with id or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_url, title, version, document, raw, created_at, updated_at
		FROM index_documents WHERE id = ?`, id)
	var (
		rec  Record
		body string
	)
	err := row.Scan(&rec.ID, &rec.SourceURL, &rec.Title, &rec.Version, &body, &rec.Raw, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	doc, err := apimeta.DecodeJSONBytes([]byte(body), apimeta.DecodeOpt{})
	if err != nil {
		return nil, fmt.Errorf("decode stored document %s: %w", id, err)
	}
	rec.Document = doc
	return &rec, nil
}

// List returns all records without their documents, ordered by title then id.
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_url, title, version, created_at, updated_at
		FROM index_documents ORDER BY title, id`)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.SourceURL, &rec.Title, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes the record with id or returns ErrNotFound.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM index_documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
