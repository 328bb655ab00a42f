package book

import (
	"testing"

	"github.com/stretchr/testify/require"

	"microbook/internal/wire"
)

type recorder struct {
	levels           []levelCall
	changes          []LiquidityChange
	cancels          []CancelEvent
	snapshotRequests int
}

type levelCall struct {
	isBid bool
	price float64
	qty   float64
}

func (r *recorder) OnLevel(isBid bool, price, quantity float64) {
	r.levels = append(r.levels, levelCall{isBid, price, quantity})
}
func (r *recorder) OnLevelChange(c LiquidityChange) { r.changes = append(r.changes, c) }
func (r *recorder) OnCancel(c CancelEvent)          { r.cancels = append(r.cancels, c) }
func (r *recorder) RequestSnapshot()                { r.snapshotRequests++ }

func newTestReconciler(rec *recorder) *Reconciler {
	return New(Config{TickSize: 0.01, CancelFraction: 0.3}, rec, rec, rec, nil)
}

func TestReconciler_SnapshotThenInSyncDiff(t *testing.T) {
	rec := &recorder{}
	r := newTestReconciler(rec)

	r.ApplySnapshot(wire.BookDiff{
		LastUpdateID: 100,
		Bids:         []wire.PriceLevel{{Price: 100, Volume: 1.0}},
		Asks:         []wire.PriceLevel{{Price: 101, Volume: 1.0}},
	})
	require.Equal(t, Synced, r.State())

	r.ApplyDiff(wire.BookDiff{
		FirstUpdateID: 101,
		LastUpdateID:  101,
		Bids:          []wire.PriceLevel{{Price: 100, Volume: 0.5}},
	})

	bids := r.Bids()
	require.Len(t, bids, 1)
	require.Equal(t, 100.0, bids[0].Price)
	require.Equal(t, 0.5, bids[0].Volume)

	asks := r.Asks()
	spread := asks[0].Price - bids[0].Price
	require.Equal(t, 1.0, spread)
	require.Equal(t, uint64(101), r.LastUpdateID())
}

func TestReconciler_GapDetection(t *testing.T) {
	rec := &recorder{}
	r := newTestReconciler(rec)

	r.ApplySnapshot(wire.BookDiff{LastUpdateID: 100})
	r.ApplyDiff(wire.BookDiff{FirstUpdateID: 103, LastUpdateID: 105})

	require.Equal(t, Resyncing, r.State())
	require.Equal(t, 1, rec.snapshotRequests)
}

func TestReconciler_Monotonicity(t *testing.T) {
	rec := &recorder{}
	r := newTestReconciler(rec)
	r.ApplySnapshot(wire.BookDiff{LastUpdateID: 100})

	r.ApplyDiff(wire.BookDiff{FirstUpdateID: 101, LastUpdateID: 101, Bids: []wire.PriceLevel{{Price: 100, Volume: 1}}})
	require.Equal(t, uint64(101), r.LastUpdateID())

	// duplicate/stale diff must not move lastUpdateID backwards or apply.
	r.ApplyDiff(wire.BookDiff{FirstUpdateID: 90, LastUpdateID: 95, Bids: []wire.PriceLevel{{Price: 200, Volume: 1}}})
	require.Equal(t, uint64(101), r.LastUpdateID())
	require.Len(t, r.Bids(), 1)
}

func TestReconciler_Positivity(t *testing.T) {
	rec := &recorder{}
	r := newTestReconciler(rec)
	r.ApplySnapshot(wire.BookDiff{LastUpdateID: 1, Bids: []wire.PriceLevel{{Price: 100, Volume: 1}}})

	r.ApplyDiff(wire.BookDiff{FirstUpdateID: 2, LastUpdateID: 2, Bids: []wire.PriceLevel{{Price: 100, Volume: 0}}})

	for _, lvl := range r.Bids() {
		require.Greater(t, lvl.Volume, 0.0)
	}
	require.Empty(t, r.Bids())
}

func TestReconciler_CancelDetection(t *testing.T) {
	rec := &recorder{}
	r := newTestReconciler(rec)
	r.ApplySnapshot(wire.BookDiff{LastUpdateID: 1, Bids: []wire.PriceLevel{{Price: 100, Volume: 10.0}}})

	r.ApplyDiff(wire.BookDiff{FirstUpdateID: 2, LastUpdateID: 2, Bids: []wire.PriceLevel{{Price: 100, Volume: 3.0}}})
	require.Len(t, rec.cancels, 1)
	require.InDelta(t, 700.0, rec.cancels[0].CancelledUSD, 1e-9)

	rec.cancels = nil
	r.ApplySnapshot(wire.BookDiff{LastUpdateID: 3, Bids: []wire.PriceLevel{{Price: 100, Volume: 10.0}}})
	r.ApplyDiff(wire.BookDiff{FirstUpdateID: 4, LastUpdateID: 4, Bids: []wire.PriceLevel{{Price: 100, Volume: 9.5}}})
	require.Empty(t, rec.cancels)
}

func TestReconciler_UninitializedBridging(t *testing.T) {
	rec := &recorder{}
	r := newTestReconciler(rec)

	r.ApplyDiff(wire.BookDiff{FirstUpdateID: 50, LastUpdateID: 90})
	require.Equal(t, Uninitialized, r.State())

	r.ApplySnapshot(wire.BookDiff{LastUpdateID: 100, Bids: []wire.PriceLevel{{Price: 100, Volume: 1}}})
	require.Equal(t, Synced, r.State())
	require.Equal(t, uint64(100), r.LastUpdateID())
}
