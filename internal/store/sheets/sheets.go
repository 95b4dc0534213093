// Package sheets stores ledger tables as worksheets of one Google spreadsheet.
// Row 1 of every worksheet is the header row; data starts on row 2.
package sheets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hcpa/caixas/internal/store"
)

// api is the slice of the Sheets REST surface the store needs.
type api interface {
	sheetIDs(ctx context.Context) (map[string]int64, error)
	addSheet(ctx context.Context, title string) (int64, error)
	getValues(ctx context.Context, rng string) ([][]any, error)
	appendValues(ctx context.Context, rng string, row []any) error
	updateValues(ctx context.Context, rng string, row []any) error
	deleteRow(ctx context.Context, sheetID, index int64) error
}

type worksheet struct {
	title   string
	sheetID int64
	schema  store.Schema
}

type Store struct {
	api     api
	timeout time.Duration
	logger  *zap.Logger
	sheets  map[store.Table]worksheet
}

var _ store.Store = (*Store)(nil)

func newStore(ctx context.Context, a api, titles map[store.Table]string, timeout time.Duration, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		api:     a,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "store.sheets")),
		sheets:  make(map[store.Table]worksheet),
	}
	if err := s.ensureWorksheets(ctx, titles); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureWorksheets resolves the numeric sheet id of every table, creating
// missing worksheets and writing the header row into empty ones.
func (s *Store) ensureWorksheets(ctx context.Context, titles map[store.Table]string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	existing, err := s.api.sheetIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to read spreadsheet metadata: %w", err)
	}

	for _, schema := range store.Schemas() {
		title := titles[schema.Table]
		if title == "" {
			title = string(schema.Table)
		}

		id, ok := existing[title]
		if !ok {
			id, err = s.api.addSheet(ctx, title)
			if err != nil {
				return fmt.Errorf("failed to add worksheet %q: %w", title, err)
			}
			s.logger.Info("worksheet created", zap.String("title", title))
		}

		ws := worksheet{title: title, sheetID: id, schema: schema}
		header, err := s.api.getValues(ctx, ws.rowRange(1))
		if err != nil {
			return fmt.Errorf("failed to read header of %q: %w", title, err)
		}
		if len(header) == 0 || len(header[0]) == 0 {
			if err := s.api.updateValues(ctx, ws.rowRange(1), toCells(schema.Columns)); err != nil {
				return fmt.Errorf("failed to write header of %q: %w", title, err)
			}
			s.logger.Info("header row written", zap.String("title", title))
		}

		s.sheets[schema.Table] = ws
	}
	return nil
}

func (s *Store) AppendRow(ctx context.Context, table store.Table, values []string) error {
	ws, err := s.worksheet(table)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.api.appendValues(ctx, ws.fullRange(), toCells(ws.schema.Pad(values))); err != nil {
		return fmt.Errorf("sheets: append to %s: %w", ws.title, err)
	}
	return nil
}

func (s *Store) ListRows(ctx context.Context, table store.Table) ([]store.Record, error) {
	ws, err := s.worksheet(table)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.readAll(ctx, ws)
}

func (s *Store) FindFirstRow(ctx context.Context, table store.Table, column, value string) (store.Handle, error) {
	ws, err := s.worksheet(table)
	if err != nil {
		return store.Handle{}, err
	}
	if ws.schema.Index(column) < 0 {
		return store.Handle{}, fmt.Errorf("table %s has no column %q", table, column)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	records, err := s.readAll(ctx, ws)
	if err != nil {
		return store.Handle{}, err
	}
	for _, rec := range records {
		if rec.Values[column] == value {
			return rec.Handle, nil
		}
	}
	return store.Handle{}, store.ErrNotFound
}

// DeleteRow removes the row at the handle's index. Rows shift when others are
// deleted, so the key cell is re-read first and a mismatch counts as not found.
func (s *Store) DeleteRow(ctx context.Context, h store.Handle) error {
	ws, err := s.worksheet(h.Table)
	if err != nil {
		return err
	}
	if h.Row < 1 {
		return store.ErrNotFound
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	current, err := s.api.getValues(ctx, ws.rowRange(h.Row+1))
	if err != nil {
		return fmt.Errorf("sheets: read row %d of %s: %w", h.Row+1, ws.title, err)
	}
	if len(current) == 0 || isBlank(current[0]) {
		return store.ErrNotFound
	}
	if idx := ws.schema.Index(ws.schema.KeyColumn); idx >= 0 {
		if cell(current[0], idx) != h.Key {
			return store.ErrNotFound
		}
	}

	if err := s.api.deleteRow(ctx, ws.sheetID, h.Row); err != nil {
		return fmt.Errorf("sheets: delete row %d of %s: %w", h.Row+1, ws.title, err)
	}
	return nil
}

func (s *Store) readAll(ctx context.Context, ws worksheet) ([]store.Record, error) {
	values, err := s.api.getValues(ctx, ws.fullRange())
	if err != nil {
		return nil, fmt.Errorf("sheets: read %s: %w", ws.title, err)
	}

	records := []store.Record{}
	keyIdx := ws.schema.Index(ws.schema.KeyColumn)
	// values[0] is the header row
	for i := 1; i < len(values); i++ {
		if isBlank(values[i]) {
			continue
		}
		cells := make([]string, len(ws.schema.Columns))
		for c := range cells {
			cells[c] = cell(values[i], c)
		}
		h := store.Handle{Table: ws.schema.Table, Row: int64(i)}
		if keyIdx >= 0 {
			h.Key = cells[keyIdx]
		}
		records = append(records, store.Record{Handle: h, Values: store.RowFrom(ws.schema.Columns, cells)})
	}
	return records, nil
}

func (s *Store) worksheet(table store.Table) (worksheet, error) {
	ws, ok := s.sheets[table]
	if !ok {
		return worksheet{}, fmt.Errorf("unknown table %q", table)
	}
	return ws, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// fullRange covers every column of the schema, e.g. 'pendentes'!A:E
func (ws worksheet) fullRange() string {
	last := columnLetter(len(ws.schema.Columns) - 1)
	return fmt.Sprintf("%s!A:%s", quoteTitle(ws.title), last)
}

// rowRange covers one 1-based row, e.g. 'pendentes'!A2:E2
func (ws worksheet) rowRange(n int64) string {
	last := columnLetter(len(ws.schema.Columns) - 1)
	return fmt.Sprintf("%s!A%d:%s%d", quoteTitle(ws.title), n, last, n)
}

func quoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func columnLetter(i int) string {
	var out []byte
	for i >= 0 {
		out = append([]byte{byte('A' + i%26)}, out...)
		i = i/26 - 1
	}
	return string(out)
}

func toCells(values []string) []any {
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}

func cell(row []any, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[i]))
}

func isBlank(row []any) bool {
	for i := range row {
		if cell(row, i) != "" {
			return false
		}
	}
	return true
}
