// Package ledger owns the lifecycle of pending pickup requests and the
// append-only history of collections, on top of a store.Store.
//
// A pending request is open while its row exists; resolving it deletes the
// row. Collections are always logged first and never rolled back. The two
// writes are independent remote calls: a failure between them leaves a
// history entry without a matching removal, which is accepted.
//
// Two agents resolving the same sector at once may both find the same row;
// one delete wins and the other sees store.ErrNotFound, reported as
// OutcomeLoggedOnly. No locking is attempted.
package ledger

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hcpa/caixas/internal/models"
	"github.com/hcpa/caixas/internal/store"
)

type Ledger struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
	loc    *time.Location
}

type Option func(*Ledger)

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock replaces time.Now for collection timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator replaces the uuid generator for pending request keys.
func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

// WithLocation sets the zone used to format stamps written to the tables.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// New builds a ledger over an already connected store. The ledger never
// opens or closes the store itself.
func New(st store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  st,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  uuid.NewString,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(zap.String("component", "ledger"))
	return l
}

// CollectionResult describes what RecordCollection did. HistoryLogged is true
// as soon as the history row was appended, even when an error follows.
type CollectionResult struct {
	Outcome       models.Outcome
	Record        models.CollectionRecord
	HistoryLogged bool
}

// ReportAccumulation appends one open request for sector. Repeated reports
// for the same sector add repeated rows.
func (l *Ledger) ReportAccumulation(ctx context.Context, sector string, volume models.Volume, at time.Time) (models.PendingRequest, error) {
	sector = strings.TrimSpace(sector)
	if sector == "" {
		return models.PendingRequest{}, &ValidationError{Field: "sector", Reason: "sector required"}
	}
	if !volume.Valid() {
		return models.PendingRequest{}, &ValidationError{Field: "volume", Reason: "unknown volume " + strconv.Quote(string(volume))}
	}

	req := models.PendingRequest{
		ID:         l.newID(),
		Sector:     sector,
		Volume:     volume,
		ReportedAt: at.In(l.loc).Format(models.ReportedAtLayout),
		Status:     models.StatusOpen,
	}

	values := make([]string, len(store.PendingSchema.Columns))
	set(store.PendingSchema, values, store.ColSector, req.Sector)
	set(store.PendingSchema, values, store.ColVolume, req.Volume.Label())
	set(store.PendingSchema, values, store.ColReportedAt, req.ReportedAt)
	set(store.PendingSchema, values, store.ColStatus, string(req.Status))
	set(store.PendingSchema, values, store.ColID, req.ID)

	if err := l.store.AppendRow(ctx, store.TablePending, values); err != nil {
		l.logger.Error("failed to append pending request", zap.String("sector", sector), zap.Error(err))
		return models.PendingRequest{}, &ConnectionError{Op: "append pending request", Err: err}
	}

	l.logger.Info("pending request reported",
		zap.String("id", req.ID),
		zap.String("sector", req.Sector),
		zap.String("volume", string(req.Volume)))
	return req, nil
}

// ListPending returns the open requests in table order, oldest first.
// An empty table yields an empty slice.
func (l *Ledger) ListPending(ctx context.Context) ([]models.PendingRequest, error) {
	records, err := l.store.ListRows(ctx, store.TablePending)
	if err != nil {
		return nil, &ConnectionError{Op: "list pending requests", Err: err}
	}

	pending := make([]models.PendingRequest, 0, len(records))
	for _, rec := range records {
		pending = append(pending, decodePending(rec))
	}
	return pending, nil
}

// RecordCollection logs a pickup and, when siteCleared is true, removes the
// first pending request whose sector matches exactly. A missing pending
// request is not an error.
func (l *Ledger) RecordCollection(ctx context.Context, record models.CollectionRecord, siteCleared *bool) (CollectionResult, error) {
	record.Badge = strings.TrimSpace(record.Badge)
	record.Sector = strings.TrimSpace(record.Sector)
	if record.Badge == "" {
		return CollectionResult{}, &ValidationError{Field: "badge", Reason: "badge required"}
	}
	if record.Sector == "" {
		return CollectionResult{}, &ValidationError{Field: "sector", Reason: "sector required"}
	}
	if record.Quantity < 1 {
		return CollectionResult{}, &ValidationError{Field: "quantity", Reason: "quantity must be at least 1"}
	}
	if record.CompletedAt == "" {
		record.CompletedAt = l.now().In(l.loc).Format(models.CompletedAtLayout)
	}
	record.SiteCleared = siteCleared

	values := make([]string, len(store.HistorySchema.Columns))
	set(store.HistorySchema, values, store.ColCompletedAt, record.CompletedAt)
	set(store.HistorySchema, values, store.ColSector, record.Sector)
	set(store.HistorySchema, values, store.ColQuantity, strconv.Itoa(record.Quantity))
	set(store.HistorySchema, values, store.ColBadge, record.Badge)
	set(store.HistorySchema, values, store.ColSiteCleared, formatCleared(siteCleared))

	if err := l.store.AppendRow(ctx, store.TableHistory, values); err != nil {
		l.logger.Error("failed to append collection", zap.String("sector", record.Sector), zap.Error(err))
		return CollectionResult{}, &ConnectionError{Op: "append collection", Err: err}
	}

	result := CollectionResult{Record: record, HistoryLogged: true}
	log := l.logger.With(zap.String("sector", record.Sector), zap.String("badge", record.Badge))

	if siteCleared == nil || !*siteCleared {
		result.Outcome = models.OutcomeLoggedNotCleared
		log.Info("collection logged, site not cleared")
		return result, nil
	}

	resolved, err := l.resolve(ctx, record.Sector)
	if err != nil {
		result.Outcome = models.OutcomeLoggedOnly
		log.Error("collection logged but pending request could not be removed", zap.Error(err))
		return result, err
	}
	if resolved {
		result.Outcome = models.OutcomeResolved
		log.Info("pending request resolved")
	} else {
		result.Outcome = models.OutcomeLoggedOnly
		log.Info("collection logged, no pending request for sector")
	}
	return result, nil
}

// resolve deletes the first pending row for sector. It reports false when
// there is none or it vanished between lookup and delete.
func (l *Ledger) resolve(ctx context.Context, sector string) (bool, error) {
	h, err := l.store.FindFirstRow(ctx, store.TablePending, store.ColSector, sector)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &ConnectionError{Op: "find pending request", Err: err}
	}

	err = l.store.DeleteRow(ctx, h)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &ConnectionError{Op: "delete pending request", Err: err}
	}
	return true, nil
}

// ListHistory returns every logged collection, oldest first.
func (l *Ledger) ListHistory(ctx context.Context) ([]models.CollectionRecord, error) {
	records, err := l.store.ListRows(ctx, store.TableHistory)
	if err != nil {
		return nil, &ConnectionError{Op: "list history", Err: err}
	}

	history := make([]models.CollectionRecord, 0, len(records))
	for _, rec := range records {
		history = append(history, decodeCollection(rec))
	}
	return history, nil
}

func decodePending(rec store.Record) models.PendingRequest {
	v := rec.Values
	volume, err := models.ParseVolume(v[store.ColVolume])
	if err != nil {
		volume = models.Volume(v[store.ColVolume])
	}
	id := v[store.ColID]
	if id == "" {
		id = rec.Handle.Key
	}
	return models.PendingRequest{
		ID:         id,
		Sector:     v[store.ColSector],
		Volume:     volume,
		ReportedAt: v[store.ColReportedAt],
		Status:     models.RequestStatus(v[store.ColStatus]),
	}
}

func decodeCollection(rec store.Record) models.CollectionRecord {
	v := rec.Values
	qty, _ := strconv.Atoi(strings.TrimSpace(v[store.ColQuantity]))
	return models.CollectionRecord{
		CompletedAt: v[store.ColCompletedAt],
		Sector:      v[store.ColSector],
		Quantity:    qty,
		Badge:       v[store.ColBadge],
		SiteCleared: parseCleared(v[store.ColSiteCleared]),
	}
}

func formatCleared(cleared *bool) string {
	switch {
	case cleared == nil:
		return ""
	case *cleared:
		return "SIM"
	default:
		return "NAO"
	}
}

func parseCleared(s string) *bool {
	var b bool
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sim", "true", "yes", "1":
		b = true
	case "nao", "não", "false", "no", "0":
		b = false
	default:
		return nil
	}
	return &b
}

func set(schema store.Schema, values []string, column, value string) {
	if idx := schema.Index(column); idx >= 0 {
		values[idx] = value
	}
}
