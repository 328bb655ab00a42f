package liquidity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"microbook/internal/book"
	"microbook/internal/wire"
)

type recordingSink struct {
	trades  []tradeFill
	cancels []cancelFill
}

type tradeFill struct {
	isBuy      bool
	durationNs uint64
	sizeUSD    float64
	ratio      float64
}
type cancelFill struct {
	isBuy      bool
	durationNs uint64
	sizeUSD    float64
	ratio      float64
}

func (s *recordingSink) OnTradeBucketFull(isBuy bool, durationNs uint64, sizeUSD, flowRatio float64) {
	s.trades = append(s.trades, tradeFill{isBuy, durationNs, sizeUSD, flowRatio})
}
func (s *recordingSink) OnCancelBucketFull(isBuy bool, durationNs uint64, sizeUSD, cancelRatio float64) {
	s.cancels = append(s.cancels, cancelFill{isBuy, durationNs, sizeUSD, cancelRatio})
}

type changeRecorder struct {
	events []struct {
		price, delta float64
		isBid        bool
	}
}

func (c *changeRecorder) OnLiquidityChange(price, volumeDelta float64, timestampNs uint64, isBid bool) {
	c.events = append(c.events, struct {
		price, delta float64
		isBid        bool
	}{price, volumeDelta, isBid})
}

func TestTracker_TradeBucketFill(t *testing.T) {
	sink := &recordingSink{}
	tr := New(Config{BuyBucketUSD: 10000, SellBucketUSD: 10000, CancelBucketUSD: 5000, DepthLevelsReport: 20}, sink, nil)

	tr.OnTrade(wire.NewTrade(100, 30, 1_000_000_000, 1, 0, 0, 0, false)) // buy, $3000
	tr.OnTrade(wire.NewTrade(100, 80, 2_500_000_000, 2, 0, 0, 0, false)) // buy, $8000 -> total 11000 >= 10000

	require.Len(t, sink.trades, 1)
	f := sink.trades[0]
	require.True(t, f.isBuy)
	require.Equal(t, uint64(1_500_000_000), f.durationNs)
	require.Equal(t, 1.0, f.ratio) // pure buy flow, no opposite
	require.Equal(t, 10000.0, f.sizeUSD)
}

func TestTracker_FlowRatioSeesOppositeFlow(t *testing.T) {
	sink := &recordingSink{}
	tr := New(Config{BuyBucketUSD: 1000, SellBucketUSD: 1e9}, sink, nil)

	tr.OnTrade(wire.NewTrade(100, 5, 1_000_000_000, 1, 0, 0, 0, true))   // sell, $500 opposite evidence
	tr.OnTrade(wire.NewTrade(100, 15, 2_000_000_000, 2, 0, 0, 0, false)) // buy, $1500 fills the buy bucket

	require.Len(t, sink.trades, 1)
	require.True(t, sink.trades[0].isBuy)
	require.InDelta(t, 0.75, sink.trades[0].ratio, 1e-9) // 1500 / (1500 + 500)
}

func TestTracker_BucketConservation(t *testing.T) {
	sink := &recordingSink{}
	tr := New(Config{BuyBucketUSD: 1000, SellBucketUSD: 1000, CancelBucketUSD: 1000}, sink, nil)

	// Ten buy trades of $250 each = $2500 total => floor(2500/1000) = 2 emissions.
	for i := 0; i < 10; i++ {
		tr.OnTrade(wire.NewTrade(100, 2.5, uint64(i+1)*1_000_000_000, uint64(i), 0, 0, 0, false))
	}
	require.Len(t, sink.trades, 2)
}

func TestTracker_OversizedTradeCompletesOneBucket(t *testing.T) {
	sink := &recordingSink{}
	tr := New(Config{BuyBucketUSD: 1000, SellBucketUSD: 1000}, sink, nil)

	// A single $5000 trade completes exactly one bucket; the residual is
	// discarded, so the next trade starts from zero.
	tr.OnTrade(wire.NewTrade(100, 50, 1_000_000_000, 1, 0, 0, 0, false))
	require.Len(t, sink.trades, 1)

	tr.OnTrade(wire.NewTrade(100, 5, 2_000_000_000, 2, 0, 0, 0, false)) // $500, below size
	require.Len(t, sink.trades, 1)
}

func TestTracker_LevelChangeFilteredByDepth(t *testing.T) {
	changes := &changeRecorder{}
	tr := New(Config{DepthLevelsReport: 1}, nil, changes)

	tr.OnLevelChange(book.LiquidityChange{Price: 100, VolumeDelta: 1, IsBid: true}) // top of book, reported
	tr.OnLevelChange(book.LiquidityChange{Price: 99, VolumeDelta: 1, IsBid: true})  // rank 2, filtered
	tr.OnLevelChange(book.LiquidityChange{Price: 100, VolumeDelta: -0.5, IsBid: true})
	tr.OnLevelChange(book.LiquidityChange{Price: 99, VolumeDelta: -0.5, IsBid: true})

	require.Len(t, changes.events, 2)
	for _, e := range changes.events {
		require.Equal(t, 100.0, e.price)
	}
}

func TestTracker_SnapshotPrunedToTrackDepth(t *testing.T) {
	tr := New(Config{DepthLevelsTrack: 2, DepthLevelsReport: 10}, nil, nil)

	tr.OnLevelChange(book.LiquidityChange{Price: 100, VolumeDelta: 1, IsBid: true})
	tr.OnLevelChange(book.LiquidityChange{Price: 99, VolumeDelta: 1, IsBid: true})
	tr.OnLevelChange(book.LiquidityChange{Price: 98, VolumeDelta: 1, IsBid: true})

	require.Len(t, tr.bidLevels, 2)
	require.Contains(t, tr.bidLevels, 100.0)
	require.Contains(t, tr.bidLevels, 99.0)
	require.NotContains(t, tr.bidLevels, 98.0)
}

func TestTracker_CancelBucketFill(t *testing.T) {
	sink := &recordingSink{}
	tr := New(Config{CancelBucketUSD: 500}, sink, nil)

	tr.OnCancel(book.CancelEvent{IsBid: true, CancelledUSD: 700, TimestampNs: 1000})
	require.Len(t, sink.cancels, 1)
	require.InDelta(t, 1.4, sink.cancels[0].ratio, 1e-9)
}

func TestTracker_WiredToReconciler(t *testing.T) {
	sink := &recordingSink{}
	changes := &changeRecorder{}
	tr := New(Config{CancelBucketUSD: 500, DepthLevelsTrack: 30, DepthLevelsReport: 20}, sink, changes)
	r := book.New(book.Config{TickSize: 0.01, CancelFraction: 0.3}, nil, tr, nil, nil)

	r.ApplySnapshot(wire.BookDiff{LastUpdateID: 1, Bids: []wire.PriceLevel{{Price: 100, Volume: 10}}})
	r.ApplyDiff(wire.BookDiff{FirstUpdateID: 2, LastUpdateID: 2, TimestampNs: 1000, Bids: []wire.PriceLevel{{Price: 100, Volume: 3}}})

	require.Len(t, changes.events, 1)
	require.Equal(t, -7.0, changes.events[0].delta)
	require.True(t, changes.events[0].isBid)

	require.Len(t, sink.cancels, 1) // 700 USD cancelled fills the 500 USD bucket
	require.InDelta(t, 1.4, sink.cancels[0].ratio, 1e-9)
}

func TestTracker_ResetClearsBucketsAndSnapshots(t *testing.T) {
	sink := &recordingSink{}
	tr := New(Config{BuyBucketUSD: 1e9, SellBucketUSD: 1e9, CancelBucketUSD: 1e9}, sink, nil)

	tr.OnTrade(wire.NewTrade(100, 1, 1_000_000_000, 1, 0, 0, 0, false))
	tr.OnLevelChange(book.LiquidityChange{Price: 100, VolumeDelta: 1, IsBid: true})
	tr.OnCancel(book.CancelEvent{IsBid: false, CancelledUSD: 100, TimestampNs: 1})

	tr.Reset()
	require.Zero(t, tr.buyBucket.AccumUSD)
	require.Zero(t, tr.buyBucket.StartTsNs)
	require.Zero(t, tr.cancelSellBucket.AccumUSD)
	require.Empty(t, tr.bidLevels)
	require.Empty(t, tr.askLevels)
}
