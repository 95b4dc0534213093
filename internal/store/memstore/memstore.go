// Package memstore keeps tables in process memory. Used by the "memory"
// driver for local runs and by tests.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/hcpa/caixas/internal/store"
)

type row struct {
	id    int64
	cells []string
}

type Store struct {
	mu     sync.Mutex
	nextID int64
	tables map[store.Table][]row
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{tables: make(map[store.Table][]row)}
}

func (s *Store) AppendRow(ctx context.Context, table store.Table, values []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	schema, err := store.SchemaFor(table)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.tables[table] = append(s.tables[table], row{id: s.nextID, cells: schema.Pad(values)})
	return nil
}

func (s *Store) ListRows(ctx context.Context, table store.Table) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	schema, err := store.SchemaFor(table)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]store.Record, 0, len(s.tables[table]))
	for _, r := range s.tables[table] {
		records = append(records, store.Record{
			Handle: handleFor(schema, r),
			Values: store.RowFrom(schema.Columns, r.cells),
		})
	}
	return records, nil
}

func (s *Store) FindFirstRow(ctx context.Context, table store.Table, column, value string) (store.Handle, error) {
	if err := ctx.Err(); err != nil {
		return store.Handle{}, err
	}
	schema, err := store.SchemaFor(table)
	if err != nil {
		return store.Handle{}, err
	}
	idx := schema.Index(column)
	if idx < 0 {
		return store.Handle{}, fmt.Errorf("table %s has no column %q", table, column)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.tables[table] {
		if r.cells[idx] == value {
			return handleFor(schema, r), nil
		}
	}
	return store.Handle{}, store.ErrNotFound
}

func (s *Store) DeleteRow(ctx context.Context, h store.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	schema, err := store.SchemaFor(h.Table)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.tables[h.Table]
	for i, r := range rows {
		if r.id != h.Row {
			continue
		}
		if schema.KeyColumn != "" && handleFor(schema, r).Key != h.Key {
			return store.ErrNotFound
		}
		s.tables[h.Table] = append(rows[:i:i], rows[i+1:]...)
		return nil
	}
	return store.ErrNotFound
}

func handleFor(schema store.Schema, r row) store.Handle {
	h := store.Handle{Table: schema.Table, Row: r.id}
	if idx := schema.Index(schema.KeyColumn); idx >= 0 {
		h.Key = r.cells[idx]
	}
	return h
}
