// Package storetest holds the behaviour every store backend must share.
package storetest

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcpa/caixas/internal/store"
)

// Run exercises a fresh store returned by newStore for each subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("EmptyTableListsNothing", func(t *testing.T) {
		s := newStore(t)
		records, err := s.ListRows(context.Background(), store.TablePending)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("AppendKeepsOrderAndColumns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.AppendRow(ctx, store.TablePending, []string{"UTI", "≤5", "08:00", "ABERTO", "k1"}))
		require.NoError(t, s.AppendRow(ctx, store.TablePending, []string{"EMERGENCIA", ">10", "09:30", "ABERTO", "k2"}))

		records, err := s.ListRows(ctx, store.TablePending)
		require.NoError(t, err)
		require.Len(t, records, 2)

		want := store.Row{"setor": "UTI", "volume": "≤5", "hora": "08:00", "status": "ABERTO", "id": "k1"}
		if diff := cmp.Diff(want, records[0].Values); diff != "" {
			t.Fatalf("first row mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, "EMERGENCIA", records[1].Values[store.ColSector])
		assert.Equal(t, "k2", records[1].Handle.Key)
	})

	t.Run("ShortRowsArePadded", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.AppendRow(ctx, store.TableHistory, []string{"01/02/2026 10:00", "UTI"}))
		records, err := s.ListRows(ctx, store.TableHistory)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "", records[0].Values[store.ColBadge])
	})

	t.Run("FindFirstReturnsOldestMatch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.AppendRow(ctx, store.TablePending, []string{"UTI", "≤5", "08:00", "ABERTO", "k1"}))
		require.NoError(t, s.AppendRow(ctx, store.TablePending, []string{"UTI", "≤10", "08:10", "ABERTO", "k2"}))

		h, err := s.FindFirstRow(ctx, store.TablePending, store.ColSector, "UTI")
		require.NoError(t, err)
		assert.Equal(t, "k1", h.Key)
		assert.Equal(t, store.TablePending, h.Table)
	})

	t.Run("FindIsExactMatch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.AppendRow(ctx, store.TablePending, []string{"UTI", "≤5", "08:00", "ABERTO", "k1"}))

		_, err := s.FindFirstRow(ctx, store.TablePending, store.ColSector, "uti")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("DeleteRemovesOnlyThatRow", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.AppendRow(ctx, store.TablePending, []string{"UTI", "≤5", "08:00", "ABERTO", "k1"}))
		require.NoError(t, s.AppendRow(ctx, store.TablePending, []string{"UTI", "≤10", "08:10", "ABERTO", "k2"}))

		h, err := s.FindFirstRow(ctx, store.TablePending, store.ColSector, "UTI")
		require.NoError(t, err)
		require.NoError(t, s.DeleteRow(ctx, h))

		records, err := s.ListRows(ctx, store.TablePending)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "k2", records[0].Values[store.ColID])

		assert.ErrorIs(t, s.DeleteRow(ctx, h), store.ErrNotFound)
	})

	t.Run("DeleteChecksKey", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.AppendRow(ctx, store.TablePending, []string{"UTI", "≤5", "08:00", "ABERTO", "k1"}))
		h, err := s.FindFirstRow(ctx, store.TablePending, store.ColSector, "UTI")
		require.NoError(t, err)

		h.Key = "other"
		assert.ErrorIs(t, s.DeleteRow(ctx, h), store.ErrNotFound)

		records, err := s.ListRows(ctx, store.TablePending)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("UnknownTable", func(t *testing.T) {
		s := newStore(t)
		err := s.AppendRow(context.Background(), store.Table("nope"), []string{"x"})
		assert.Error(t, err)
		assert.NotErrorIs(t, err, store.ErrNotFound)
	})
}
