// Package store defines the row-oriented table contract the ledger is built on.
// Backends live in subpackages: sheets (production), sqlite and memstore.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lookup or delete finds no matching row.
// It is the only failure callers may treat as benign.
var ErrNotFound = errors.New("row not found")

type Table string

const (
	TablePending Table = "pendentes"
	TableHistory Table = "historico"
)

// Column headers, written as the first row of every table.
const (
	ColID          = "id"
	ColSector      = "setor"
	ColVolume      = "volume"
	ColReportedAt  = "hora"
	ColStatus      = "status"
	ColCompletedAt = "data_hora"
	ColQuantity    = "quantidade"
	ColBadge       = "cracha"
	ColSiteCleared = "local_limpo"
)

// Schema describes the ordered columns of a table. KeyColumn, when set,
// holds a surrogate key that DeleteRow re-checks before removing a row.
type Schema struct {
	Table     Table
	Columns   []string
	KeyColumn string
}

var (
	PendingSchema = Schema{
		Table:     TablePending,
		Columns:   []string{ColSector, ColVolume, ColReportedAt, ColStatus, ColID},
		KeyColumn: ColID,
	}
	HistorySchema = Schema{
		Table:   TableHistory,
		Columns: []string{ColCompletedAt, ColSector, ColQuantity, ColBadge, ColSiteCleared},
	}
)

// Schemas returns every table the ledger uses.
func Schemas() []Schema {
	return []Schema{PendingSchema, HistorySchema}
}

func SchemaFor(t Table) (Schema, error) {
	for _, s := range Schemas() {
		if s.Table == t {
			return s, nil
		}
	}
	return Schema{}, fmt.Errorf("unknown table %q", t)
}

// Row maps column header to cell text.
type Row map[string]string

// Handle addresses a single row. Row is backend specific (sheet row index,
// sqlite rowid, slice position); Key is the surrogate key when the schema has one.
type Handle struct {
	Table Table
	Row   int64
	Key   string
}

// Record is a row read back from a table.
type Record struct {
	Handle Handle
	Values Row
}

// Store is the minimal spreadsheet contract: append, full read, first-match
// lookup and delete. Every call is one blocking round trip; nothing is cached.
type Store interface {
	AppendRow(ctx context.Context, table Table, values []string) error
	ListRows(ctx context.Context, table Table) ([]Record, error)
	FindFirstRow(ctx context.Context, table Table, column, value string) (Handle, error)
	DeleteRow(ctx context.Context, h Handle) error
}

// Pad returns values stretched or cut to the schema width.
func (s Schema) Pad(values []string) []string {
	out := make([]string, len(s.Columns))
	copy(out, values)
	return out
}

// RowFrom zips column headers with cell values. Missing cells become "".
func RowFrom(headers, cells []string) Row {
	row := make(Row, len(headers))
	for i, h := range headers {
		if h == "" {
			continue
		}
		if i < len(cells) {
			row[h] = cells[i]
		} else {
			row[h] = ""
		}
	}
	return row
}

// Index returns the position of column in the schema, or -1.
func (s Schema) Index(column string) int {
	if column == "" {
		return -1
	}
	for i, c := range s.Columns {
		if c == column {
			return i
		}
	}
	return -1
}
