// Package catalogue is the durable, single-writer, many-reader index
// of finalized recordings. See spec §4.6 and §3 (CatalogueRow).
// Adapted from marcopennelli-orbo/internal/database/database.go: same
// sqlite-over-database/sql wiring (WAL mode, foreign keys) and the same
// dynamic WHERE-clause-building query style, retargeted from
// cameras/motion events onto recording rows.
package catalogue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Detection is the persisted shape of one object detected within a
// finalized clip (spec §3, "objects_detected JSON array").
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

// Row is a CatalogueRow (spec §3).
type Row struct {
	ID              int64
	Timestamp       time.Time
	StreamID        string
	StreamName      string
	FilePath        string
	Duration        float64
	ObjectsDetected []Detection
	ThumbnailPath   string
	Confidence      float64
	Retained        bool
	WriteError      string // non-empty when the clip was truncated by a write error
}

// Filter selects rows for List/Count (spec §4.6).
type Filter struct {
	StreamID      string
	StartDate     *time.Time
	EndDate       *time.Time
	ObjectClass   string
	MinConfidence float64
}

// SortKey is a column list() may order by.
type SortKey string

const (
	SortTimestamp SortKey = "timestamp"
	SortConfidence SortKey = "confidence"
	SortDuration   SortKey = "duration"
)

// Order is ascending or descending.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// Paging bounds a List call. A Limit of zero or less, or above 1000,
// becomes 1000; a negative Offset becomes 0.
type Paging struct {
	Limit  int
	Offset int
}

// Catalogue wraps a single sqlite connection: Open caps the
// database/sql pool at one open connection, so every query and write
// is serialized through it (spec §4.6).
type Catalogue struct {
	db *sql.DB
}

// Open opens (and migrates) the catalogue database at path.
func Open(path string) (*Catalogue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalogue: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalogue: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalogue: enable foreign keys: %w", err)
	}

	c := &Catalogue{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalogue) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recordings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			stream_id TEXT NOT NULL,
			stream_name TEXT NOT NULL,
			file_path TEXT NOT NULL,
			duration REAL NOT NULL,
			objects_detected TEXT NOT NULL,
			thumbnail_path TEXT,
			confidence REAL NOT NULL,
			retained INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recordings_timestamp ON recordings (timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_recordings_stream_id ON recordings (stream_id)`,
	}
	for _, stmt := range stmts {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("catalogue: migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection.
func (c *Catalogue) Close() error {
	return c.db.Close()
}

// Insert appends row and returns its assigned id.
func (c *Catalogue) Insert(row Row) (int64, error) {
	objJSON, err := marshalObjectsDetected(row.ObjectsDetected, row.WriteError)
	if err != nil {
		return 0, fmt.Errorf("catalogue: marshal objects: %w", err)
	}

	retained := 0
	if row.Retained {
		retained = 1
	}

	res, err := c.db.Exec(
		`INSERT INTO recordings
			(timestamp, stream_id, stream_name, file_path, duration, objects_detected,
			 thumbnail_path, confidence, retained)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Timestamp.Format(time.RFC3339), row.StreamID, row.StreamName, row.FilePath,
		row.Duration, string(objJSON), row.ThumbnailPath, row.Confidence, retained,
	)
	if err != nil {
		return 0, fmt.Errorf("catalogue: insert: %w", err)
	}
	return res.LastInsertId()
}

// Get returns the row with the given id, or nil if it doesn't exist.
func (c *Catalogue) Get(id int64) (*Row, error) {
	row := c.db.QueryRow(
		`SELECT id, timestamp, stream_id, stream_name, file_path, duration,
			objects_detected, thumbnail_path, confidence, retained
		 FROM recordings WHERE id = ?`, id)
	r, err := scanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalogue: get: %w", err)
	}
	return r, nil
}

// List returns rows matching filter, sorted and paged. retained=1 is
// always required (spec §4.6).
func (c *Catalogue) List(f Filter, sort SortKey, order Order, p Paging) ([]Row, error) {
	query, args := buildWhere(f)
	query = `SELECT id, timestamp, stream_id, stream_name, file_path, duration,
		objects_detected, thumbnail_path, confidence, retained
		FROM recordings ` + query

	col := "timestamp"
	switch sort {
	case SortConfidence:
		col = "confidence"
	case SortDuration:
		col = "duration"
	}
	dir := "DESC"
	if order == Asc {
		dir = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", col, dir)

	limit := p.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalogue: list: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRows(rows)
		if err != nil {
			return nil, fmt.Errorf("catalogue: scan: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// listAll pages through every row matching f (ignoring List's own
// 1000-row cap) so aggregate stats never silently drop older clips in
// a stream/window with more than one page of recordings.
func (c *Catalogue) listAll(f Filter, sort SortKey, order Order) ([]Row, error) {
	const pageSize = 1000
	var out []Row
	offset := 0
	for {
		page, err := c.List(f, sort, order, Paging{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
		offset += pageSize
	}
}

// Count returns the number of rows matching filter.
func (c *Catalogue) Count(f Filter) (int, error) {
	query, args := buildWhere(f)
	query = "SELECT COUNT(*) FROM recordings " + query

	var n int
	if err := c.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("catalogue: count: %w", err)
	}
	return n, nil
}

// Delete removes the row and its files on disk. Idempotent: deleting
// an id that does not exist returns (false, nil).
func (c *Catalogue) Delete(id int64, removeFile func(path string) error) (bool, error) {
	row, err := c.Get(id)
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, nil
	}

	if removeFile != nil {
		_ = removeFile(row.FilePath)
		if row.ThumbnailPath != "" {
			_ = removeFile(row.ThumbnailPath)
		}
	}

	res, err := c.db.Exec("DELETE FROM recordings WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("catalogue: delete: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkEvicted flips retained to 0 for id without removing the row
// (spec §3, "retained flipped to 0 by janitor on eviction").
func (c *Catalogue) MarkEvicted(id int64) error {
	_, err := c.db.Exec("UPDATE recordings SET retained = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("catalogue: mark evicted: %w", err)
	}
	return nil
}

// OldestRetained returns the n oldest retained=1 rows ordered by
// timestamp ascending (spec §4.7, janitor eviction source).
func (c *Catalogue) OldestRetained(n int) ([]Row, error) {
	rows, err := c.db.Query(
		`SELECT id, timestamp, stream_id, stream_name, file_path, duration,
			objects_detected, thumbnail_path, confidence, retained
		 FROM recordings WHERE retained = 1 ORDER BY timestamp ASC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("catalogue: oldest retained: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRows(rows)
		if err != nil {
			return nil, fmt.Errorf("catalogue: scan: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// RetainedFilePaths returns file_path and thumbnail_path for every
// retained=1 row, used by the janitor's orphan sweep (spec §4.7).
func (c *Catalogue) RetainedFilePaths() (map[string]struct{}, error) {
	rows, err := c.db.Query("SELECT file_path, thumbnail_path FROM recordings WHERE retained = 1")
	if err != nil {
		return nil, fmt.Errorf("catalogue: retained paths: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var filePath string
		var thumbPath sql.NullString
		if err := rows.Scan(&filePath, &thumbPath); err != nil {
			return nil, fmt.Errorf("catalogue: scan paths: %w", err)
		}
		out[filePath] = struct{}{}
		if thumbPath.Valid && thumbPath.String != "" {
			out[thumbPath.String] = struct{}{}
		}
	}
	return out, rows.Err()
}

func buildWhere(f Filter) (string, []interface{}) {
	clauses := []string{"retained = 1"}
	var args []interface{}

	if f.StreamID != "" {
		clauses = append(clauses, "stream_id = ?")
		args = append(args, f.StreamID)
	}
	if f.StartDate != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, f.StartDate.Format(time.RFC3339))
	}
	if f.EndDate != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, f.EndDate.Format(time.RFC3339))
	}
	if f.ObjectClass != "" {
		clauses = append(clauses, "objects_detected LIKE ?")
		args = append(args, fmt.Sprintf(`%%"class":%q%%`, f.ObjectClass))
	}
	if f.MinConfidence > 0 {
		clauses = append(clauses, "confidence >= ?")
		args = append(args, f.MinConfidence)
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRow(r rowScanner) (*Row, error) {
	return scanRows(r)
}

func scanRows(r rowScanner) (*Row, error) {
	var row Row
	var ts string
	var objJSON string
	var thumbPath sql.NullString
	var retained int

	if err := r.Scan(&row.ID, &ts, &row.StreamID, &row.StreamName, &row.FilePath,
		&row.Duration, &objJSON, &thumbPath, &row.Confidence, &retained); err != nil {
		return nil, err
	}

	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	row.Timestamp = parsed
	row.Retained = retained != 0
	if thumbPath.Valid {
		row.ThumbnailPath = thumbPath.String
	}

	dets, writeErr, err := unmarshalObjectsDetected([]byte(objJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal objects: %w", err)
	}
	row.ObjectsDetected = dets
	row.WriteError = writeErr

	return &row, nil
}

// objectsDetectedWithError is the shape objects_detected takes when a
// write error occurred (spec §4.5, "set an error flag on the catalogue
// row's object JSON under key write_error"). In the common case
// objects_detected stays the bare JSON array spec §3 describes; this
// wrapper is only used for the exceptional row.
type objectsDetectedWithError struct {
	Detections []Detection `json:"detections"`
	WriteError string      `json:"write_error"`
}

func marshalObjectsDetected(dets []Detection, writeErr string) ([]byte, error) {
	if writeErr == "" {
		return json.Marshal(dets)
	}
	return json.Marshal(objectsDetectedWithError{Detections: dets, WriteError: writeErr})
}

func unmarshalObjectsDetected(data []byte) ([]Detection, string, error) {
	var dets []Detection
	if err := json.Unmarshal(data, &dets); err == nil {
		return dets, "", nil
	}
	var wrapped objectsDetectedWithError
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, "", err
	}
	return wrapped.Detections, wrapped.WriteError, nil
}
