package vecindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

// The artifact file is a SQLite database built by the indexer and loaded by
// the API at startup. Positions are dense: 0..count-1.
const artifactSchema = `
CREATE TABLE IF NOT EXISTS vectors (
	pos INTEGER PRIMARY KEY,
	embedding BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS index_meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	dim INTEGER NOT NULL,
	model TEXT NOT NULL,
	count INTEGER NOT NULL,
	built_at TEXT NOT NULL
);
`

// Meta describes a vector artifact.
type Meta struct {
	Dim     int
	Model   string
	Count   int
	BuiltAt time.Time
}

func openArtifact(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vecindex: open %s: %w", path, err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("vecindex: pragma: %w", err)
		}
	}
	return db, nil
}

// OpenFlat loads the artifact at path into an in-memory flat index.
func OpenFlat(path string) (*Flat, *Meta, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("vecindex: artifact %s: %w", path, err)
	}
	db, err := openArtifact(path)
	if err != nil {
		return nil, nil, err
	}
	defer db.Close()

	meta, err := readMeta(db)
	if err != nil {
		return nil, nil, err
	}

	f := NewFlat(meta.Dim)
	rows, err := db.Query("SELECT pos, embedding FROM vectors ORDER BY pos")
	if err != nil {
		return nil, nil, fmt.Errorf("vecindex: load vectors: %w", err)
	}
	defer rows.Close()

	next := 0
	for rows.Next() {
		var pos int
		var blob []byte
		if err := rows.Scan(&pos, &blob); err != nil {
			return nil, nil, fmt.Errorf("vecindex: scan: %w", err)
		}
		if pos != next {
			return nil, nil, fmt.Errorf("vecindex: artifact has a gap at position %d", next)
		}
		vec, err := DecodeVector(blob)
		if err != nil {
			return nil, nil, fmt.Errorf("vecindex: position %d: %w", pos, err)
		}
		if err := f.Add(vec); err != nil {
			return nil, nil, fmt.Errorf("vecindex: position %d: %w", pos, err)
		}
		next++
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("vecindex: load vectors: %w", err)
	}
	if next != meta.Count {
		return nil, nil, fmt.Errorf("vecindex: artifact holds %d vectors but meta records %d", next, meta.Count)
	}
	return f, meta, nil
}

func readMeta(db *sql.DB) (*Meta, error) {
	var m Meta
	var builtAt string
	err := db.QueryRow("SELECT dim, model, count, built_at FROM index_meta WHERE id = 1").
		Scan(&m.Dim, &m.Model, &m.Count, &builtAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.New("vecindex: artifact has no metadata; was the build finalized?")
	}
	if err != nil {
		return nil, fmt.Errorf("vecindex: read meta: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, builtAt); err == nil {
		m.BuiltAt = t
	}
	return &m, nil
}

// Writer builds or extends a vector artifact. Inserts run in batched
// transactions; Finalize records the metadata row.
type Writer struct {
	db    *sql.DB
	dim   int
	model string
	n     int
}

// NewWriter creates a fresh artifact at path, replacing any existing one.
func NewWriter(path string, dim int, model string) (*Writer, error) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("vecindex: replace %s: %w", p, err)
		}
	}
	db, err := openArtifact(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(artifactSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("vecindex: create schema: %w", err)
	}
	return &Writer{db: db, dim: dim, model: model}, nil
}

// OpenWriter opens an existing finalized artifact for appending. The
// artifact's dimension and model must match.
func OpenWriter(path string, dim int, model string) (*Writer, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("vecindex: artifact %s: %w", path, err)
	}
	db, err := openArtifact(path)
	if err != nil {
		return nil, err
	}
	meta, err := readMeta(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if meta.Dim != dim {
		db.Close()
		return nil, fmt.Errorf("vecindex: artifact dim %d, want %d: %w", meta.Dim, dim, ErrDimMismatch)
	}
	if meta.Model != model {
		db.Close()
		return nil, fmt.Errorf("vecindex: artifact built with model %q, want %q", meta.Model, model)
	}
	return &Writer{db: db, dim: dim, model: model, n: meta.Count}, nil
}

// Insert stores vec at pos.
func (w *Writer) Insert(ctx context.Context, pos int, vec []float32) error {
	return w.InsertBatch(ctx, pos, [][]float32{vec})
}

// InsertBatch stores a contiguous run of vectors starting at startPos.
func (w *Writer) InsertBatch(ctx context.Context, startPos int, vecs [][]float32) error {
	if len(vecs) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vecindex: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO vectors (pos, embedding) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("vecindex: prepare: %w", err)
	}
	defer stmt.Close()

	for i, vec := range vecs {
		if len(vec) != w.dim {
			return fmt.Errorf("vecindex: insert pos %d: %w: got %d, want %d", startPos+i, ErrDimMismatch, len(vec), w.dim)
		}
		if _, err := stmt.ExecContext(ctx, startPos+i, EncodeVector(vec)); err != nil {
			return fmt.Errorf("vecindex: insert pos %d: %w", startPos+i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vecindex: commit: %w", err)
	}
	if end := startPos + len(vecs); end > w.n {
		w.n = end
	}
	return nil
}

// Count returns the number of vectors written so far (highest position + 1).
func (w *Writer) Count() int { return w.n }

// Finalize writes the metadata row. Call after all vectors are inserted; an
// artifact without metadata will not load.
func (w *Writer) Finalize(ctx context.Context) error {
	_, err := w.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO index_meta (id, dim, model, count, built_at) VALUES (1, ?, ?, ?, ?)",
		w.dim, w.model, w.n, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("vecindex: finalize: %w", err)
	}
	return nil
}

// Close closes the artifact file.
func (w *Writer) Close() error {
	return w.db.Close()
}
