package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hcpa/caixas/internal/store"
)

// DB is a sqlite-backed store. Each table keeps its rows in insertion
// order; rowid is the row handle.
type DB struct {
	conn *sql.DB
}

var _ store.Store = (*DB)(nil)

// New opens (and creates if needed) the sqlite database at dbPath
func New(dbPath string) (*DB, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps :memory: databases alive between calls
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	var schema strings.Builder
	for _, s := range store.Schemas() {
		cols := make([]string, 0, len(s.Columns))
		for _, c := range s.Columns {
			cols = append(cols, fmt.Sprintf("%s TEXT NOT NULL DEFAULT ''", quote(c)))
		}
		fmt.Fprintf(&schema, "CREATE TABLE IF NOT EXISTS %s (\n\t%s\n);\n", quote(string(s.Table)), strings.Join(cols, ",\n\t"))
		fmt.Fprintf(&schema, "CREATE INDEX IF NOT EXISTS %s ON %s(%s);\n",
			quote("idx_"+string(s.Table)+"_"+store.ColSector), quote(string(s.Table)), quote(store.ColSector))
	}

	_, err := db.conn.Exec(schema.String())
	return err
}

// AppendRow inserts one row at the end of the table
func (db *DB) AppendRow(ctx context.Context, table store.Table, values []string) error {
	schema, err := store.SchemaFor(table)
	if err != nil {
		return err
	}

	cols := make([]string, len(schema.Columns))
	marks := make([]string, len(schema.Columns))
	args := make([]any, len(schema.Columns))
	for i, c := range schema.Columns {
		cols[i] = quote(c)
		marks[i] = "?"
	}
	for i, v := range schema.Pad(values) {
		args[i] = v
	}

	_, err = db.conn.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, quote(string(table)), strings.Join(cols, ", "), strings.Join(marks, ", ")),
		args...,
	)
	return err
}

// ListRows returns every row of the table, oldest first
func (db *DB) ListRows(ctx context.Context, table store.Table) ([]store.Record, error) {
	schema, err := store.SchemaFor(table)
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT rowid, %s FROM %s ORDER BY rowid ASC`, selectList(schema), quote(string(table))),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []store.Record{}
	for rows.Next() {
		rec, err := scanRecord(schema, rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// FindFirstRow returns the oldest row whose column equals value
func (db *DB) FindFirstRow(ctx context.Context, table store.Table, column, value string) (store.Handle, error) {
	schema, err := store.SchemaFor(table)
	if err != nil {
		return store.Handle{}, err
	}
	if schema.Index(column) < 0 {
		return store.Handle{}, fmt.Errorf("table %s has no column %q", table, column)
	}

	row := db.conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT rowid, %s FROM %s WHERE %s = ? ORDER BY rowid ASC LIMIT 1`,
			selectList(schema), quote(string(table)), quote(column)),
		value,
	)
	rec, err := scanRecord(schema, row)
	if err == sql.ErrNoRows {
		return store.Handle{}, store.ErrNotFound
	}
	if err != nil {
		return store.Handle{}, err
	}

	return rec.Handle, nil
}

// DeleteRow removes the addressed row. When the table has a key column the
// key must still match, otherwise the row is treated as gone.
func (db *DB) DeleteRow(ctx context.Context, h store.Handle) error {
	schema, err := store.SchemaFor(h.Table)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE rowid = ?`, quote(string(h.Table)))
	args := []any{h.Row}
	if schema.KeyColumn != "" {
		query += fmt.Sprintf(` AND %s = ?`, quote(schema.KeyColumn))
		args = append(args, h.Key)
	}

	result, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(schema store.Schema, s scanner) (store.Record, error) {
	var rowID int64
	cells := make([]string, len(schema.Columns))
	dest := make([]any, 0, len(cells)+1)
	dest = append(dest, &rowID)
	for i := range cells {
		dest = append(dest, &cells[i])
	}
	if err := s.Scan(dest...); err != nil {
		return store.Record{}, err
	}

	h := store.Handle{Table: schema.Table, Row: rowID}
	if idx := schema.Index(schema.KeyColumn); idx >= 0 {
		h.Key = cells[idx]
	}
	return store.Record{Handle: h, Values: store.RowFrom(schema.Columns, cells)}, nil
}

func selectList(schema store.Schema) string {
	cols := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		cols[i] = quote(c)
	}
	return strings.Join(cols, ", ")
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
