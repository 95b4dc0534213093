package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcpa/caixas/internal/models"
	"github.com/hcpa/caixas/internal/store"
	"github.com/hcpa/caixas/internal/store/memstore"
)

var errUnavailable = errors.New("503 service unavailable")

// flakyStore fails the named operations with errUnavailable.
type flakyStore struct {
	store.Store
	fail map[string]bool
}

func (f *flakyStore) AppendRow(ctx context.Context, table store.Table, values []string) error {
	if f.fail["append:"+string(table)] {
		return errUnavailable
	}
	return f.Store.AppendRow(ctx, table, values)
}

func (f *flakyStore) ListRows(ctx context.Context, table store.Table) ([]store.Record, error) {
	if f.fail["list"] {
		return nil, errUnavailable
	}
	return f.Store.ListRows(ctx, table)
}

func (f *flakyStore) FindFirstRow(ctx context.Context, table store.Table, column, value string) (store.Handle, error) {
	if f.fail["find"] {
		return store.Handle{}, errUnavailable
	}
	return f.Store.FindFirstRow(ctx, table, column, value)
}

func (f *flakyStore) DeleteRow(ctx context.Context, h store.Handle) error {
	if f.fail["delete"] {
		return errUnavailable
	}
	return f.Store.DeleteRow(ctx, h)
}

var fixedNow = time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC)

func setupLedger(t *testing.T) (*Ledger, *flakyStore) {
	t.Helper()

	fs := &flakyStore{Store: memstore.New(), fail: map[string]bool{}}
	n := 0
	l := New(fs,
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("req-%d", n) }),
		WithLocation(time.UTC),
	)
	return l, fs
}

func boolPtr(b bool) *bool { return &b }

func collection(sector, badge string, qty int) models.CollectionRecord {
	return models.CollectionRecord{Sector: sector, Badge: badge, Quantity: qty}
}

func historyLen(t *testing.T, l *Ledger) int {
	t.Helper()
	history, err := l.ListHistory(context.Background())
	require.NoError(t, err)
	return len(history)
}

func pendingLen(t *testing.T, l *Ledger) int {
	t.Helper()
	pending, err := l.ListPending(context.Background())
	require.NoError(t, err)
	return len(pending)
}

func TestReportAccumulationAppendsOpenRequest(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	before := pendingLen(t, l)
	req, err := l.ReportAccumulation(ctx, "EMERGENCIA", models.VolumeUpTo10, fixedNow)
	require.NoError(t, err)

	pending, err := l.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, before+1)

	want := models.PendingRequest{
		ID:         "req-1",
		Sector:     "EMERGENCIA",
		Volume:     models.VolumeUpTo10,
		ReportedAt: "14:30",
		Status:     models.StatusOpen,
	}
	if diff := cmp.Diff(want, pending[len(pending)-1]); diff != "" {
		t.Fatalf("pending mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, want, req)
}

func TestReportAccumulationDoesNotDeduplicate(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.ReportAccumulation(ctx, "UTI", models.VolumeUpTo5, fixedNow)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, pendingLen(t, l))
}

func TestReportAccumulationRequiresSector(t *testing.T) {
	l, _ := setupLedger(t)

	for _, sector := range []string{"", "   "} {
		_, err := l.ReportAccumulation(context.Background(), sector, models.VolumeUpTo5, fixedNow)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "sector", verr.Field)
	}
	assert.Equal(t, 0, pendingLen(t, l))
}

func TestReportAccumulationRejectsUnknownVolume(t *testing.T) {
	l, _ := setupLedger(t)

	_, err := l.ReportAccumulation(context.Background(), "UTI", models.Volume("muitas"), fixedNow)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, pendingLen(t, l))
}

func TestReportAccumulationConnectionError(t *testing.T) {
	l, fs := setupLedger(t)
	fs.fail["append:pendentes"] = true

	_, err := l.ReportAccumulation(context.Background(), "UTI", models.VolumeUpTo5, fixedNow)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, errUnavailable)
	assert.NotErrorIs(t, err, ErrValidation)
}

func TestListPendingEmptyIsNotAnError(t *testing.T) {
	l, _ := setupLedger(t)

	pending, err := l.ListPending(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, pending)
	assert.Empty(t, pending)
}

func TestListPendingConnectionError(t *testing.T) {
	l, fs := setupLedger(t)
	fs.fail["list"] = true

	_, err := l.ListPending(context.Background())
	assert.ErrorIs(t, err, ErrConnection)
}

func TestRecordCollectionAlwaysLogsHistory(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	cases := []*bool{nil, boolPtr(false), boolPtr(true)}
	for i, cleared := range cases {
		_, err := l.RecordCollection(ctx, collection("SEM PENDENCIA", "1234", 2), cleared)
		require.NoError(t, err)
		assert.Equal(t, i+1, historyLen(t, l))
	}

	history, err := l.ListHistory(ctx)
	require.NoError(t, err)
	want := models.CollectionRecord{
		CompletedAt: "09/03/2026 14:30",
		Sector:      "SEM PENDENCIA",
		Quantity:    2,
		Badge:       "1234",
		SiteCleared: boolPtr(true),
	}
	if diff := cmp.Diff(want, history[2]); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, history[0].SiteCleared)
	assert.False(t, *history[1].SiteCleared)
}

func TestRecordCollectionResolvesMatchingRequest(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	_, err := l.ReportAccumulation(ctx, "UTI", models.VolumeUpTo5, fixedNow)
	require.NoError(t, err)
	_, err = l.ReportAccumulation(ctx, "EMERGENCIA", models.VolumeOver10, fixedNow)
	require.NoError(t, err)

	result, err := l.RecordCollection(ctx, collection("EMERGENCIA", "1234", 12), boolPtr(true))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeResolved, result.Outcome)
	assert.True(t, result.HistoryLogged)

	pending, err := l.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "UTI", pending[0].Sector)
}

func TestRecordCollectionWithoutPendingIsLoggedOnly(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	_, err := l.ReportAccumulation(ctx, "UTI", models.VolumeUpTo5, fixedNow)
	require.NoError(t, err)

	result, err := l.RecordCollection(ctx, collection("X", "1234", 1), boolPtr(true))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeLoggedOnly, result.Outcome)
	assert.Equal(t, 1, pendingLen(t, l))
	assert.Equal(t, 1, historyLen(t, l))
}

func TestRecordCollectionNotClearedKeepsRequest(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	_, err := l.ReportAccumulation(ctx, "Y", models.VolumeUpTo10, fixedNow)
	require.NoError(t, err)

	for _, cleared := range []*bool{boolPtr(false), nil} {
		result, err := l.RecordCollection(ctx, collection("Y", "1234", 4), cleared)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeLoggedNotCleared, result.Outcome)
	}

	pending, err := l.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Y", pending[0].Sector)
}

func TestRecordCollectionMatchIsCaseSensitive(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	_, err := l.ReportAccumulation(ctx, "UTI", models.VolumeUpTo5, fixedNow)
	require.NoError(t, err)

	result, err := l.RecordCollection(ctx, collection("uti", "1234", 1), boolPtr(true))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeLoggedOnly, result.Outcome)
	assert.Equal(t, 1, pendingLen(t, l))
}

func TestRecordCollectionValidation(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	cases := map[string]models.CollectionRecord{
		"badge":    collection("UTI", "", 1),
		"sector":   collection(" ", "1234", 1),
		"quantity": collection("UTI", "1234", 0),
	}
	for field, rec := range cases {
		_, err := l.RecordCollection(ctx, rec, boolPtr(true))
		require.Error(t, err, field)
		assert.ErrorIs(t, err, ErrValidation, field)

		var verr *ValidationError
		require.True(t, errors.As(err, &verr), field)
		assert.Equal(t, field, verr.Field)
	}
	assert.Equal(t, 0, historyLen(t, l))
}

func TestRecordCollectionTwiceResolvesOnce(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	_, err := l.ReportAccumulation(ctx, "CTI", models.VolumeUpTo5, fixedNow)
	require.NoError(t, err)

	first, err := l.RecordCollection(ctx, collection("CTI", "1234", 3), boolPtr(true))
	require.NoError(t, err)
	second, err := l.RecordCollection(ctx, collection("CTI", "1234", 3), boolPtr(true))
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeResolved, first.Outcome)
	assert.Equal(t, models.OutcomeLoggedOnly, second.Outcome)
	assert.Equal(t, 2, historyLen(t, l))
	assert.Equal(t, 0, pendingLen(t, l))
}

func TestRecordCollectionResolvesOldestDuplicateFirst(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	_, err := l.ReportAccumulation(ctx, "CTI", models.VolumeUpTo5, fixedNow)
	require.NoError(t, err)
	_, err = l.ReportAccumulation(ctx, "CTI", models.VolumeOver10, fixedNow)
	require.NoError(t, err)

	_, err = l.RecordCollection(ctx, collection("CTI", "1234", 3), boolPtr(true))
	require.NoError(t, err)

	pending, err := l.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "req-2", pending[0].ID)
}

func TestRecordCollectionHistoryFailureWritesNothing(t *testing.T) {
	l, fs := setupLedger(t)
	ctx := context.Background()

	_, err := l.ReportAccumulation(ctx, "UTI", models.VolumeUpTo5, fixedNow)
	require.NoError(t, err)
	fs.fail["append:historico"] = true

	result, err := l.RecordCollection(ctx, collection("UTI", "1234", 1), boolPtr(true))
	assert.ErrorIs(t, err, ErrConnection)
	assert.False(t, result.HistoryLogged)

	fs.fail = map[string]bool{}
	assert.Equal(t, 1, pendingLen(t, l))
	assert.Equal(t, 0, historyLen(t, l))
}

func TestRecordCollectionReportsFailureAfterHistory(t *testing.T) {
	for _, op := range []string{"find", "delete"} {
		t.Run(op, func(t *testing.T) {
			l, fs := setupLedger(t)
			ctx := context.Background()

			_, err := l.ReportAccumulation(ctx, "UTI", models.VolumeUpTo5, fixedNow)
			require.NoError(t, err)
			fs.fail[op] = true

			result, err := l.RecordCollection(ctx, collection("UTI", "1234", 1), boolPtr(true))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConnection)
			assert.ErrorIs(t, err, errUnavailable)
			assert.True(t, result.HistoryLogged)

			fs.fail = map[string]bool{}
			assert.Equal(t, 1, historyLen(t, l))
			assert.Equal(t, 1, pendingLen(t, l))
		})
	}
}

func TestDecodeLegacyRows(t *testing.T) {
	rec := store.Record{Values: store.Row{
		store.ColSector:     "UTI",
		store.ColVolume:     "Até 5 (Skate)",
		store.ColReportedAt: "08:15",
		store.ColStatus:     "ABERTO",
	}}
	got := decodePending(rec)
	assert.Equal(t, models.VolumeUpTo5, got.Volume)
	assert.Equal(t, "", got.ID)

	hist := decodeCollection(store.Record{Values: store.Row{
		store.ColQuantity:    " 7 ",
		store.ColSiteCleared: "True",
	}})
	assert.Equal(t, 7, hist.Quantity)
	require.NotNil(t, hist.SiteCleared)
	assert.True(t, *hist.SiteCleared)
}
