// Package liquidity implements the trade-driven and cancel-driven USD
// bucket accumulators, flow-ratio computation, and depth-filtered
// level-change notification — the "fixed" trade-driven-only variant
// specified for this pipeline.
package liquidity

import (
	"sync"

	"microbook/internal/book"
	"microbook/internal/wire"
)

// TradeBucket accumulates one side's trade-driven notional between fills.
type TradeBucket struct {
	AccumUSD     float64
	SameFlow     float64
	OppositeFlow float64
	StartTsNs    uint64
}

func (b *TradeBucket) empty() bool { return b.StartTsNs == 0 }

func (b *TradeBucket) reset() {
	b.AccumUSD, b.SameFlow, b.OppositeFlow, b.StartTsNs = 0, 0, 0, 0
}

// CancelBucket accumulates one side's cancelled notional between fills.
type CancelBucket struct {
	AccumUSD  float64
	TotalUSD  float64
	StartTsNs uint64
}

func (b *CancelBucket) reset() {
	b.AccumUSD, b.TotalUSD, b.StartTsNs = 0, 0, 0
}

// BucketSink receives completed trade and cancel buckets.
type BucketSink interface {
	OnTradeBucketFull(isBuy bool, durationNs uint64, sizeUSD, flowRatio float64)
	OnCancelBucketFull(isBuy bool, durationNs uint64, sizeUSD, cancelRatio float64)
}

// ChangeSink receives depth-filtered level-change notifications.
type ChangeSink interface {
	OnLiquidityChange(price, volumeDelta float64, timestampNs uint64, isBid bool)
}

// Config holds the subset of pipeline configuration the tracker needs.
// A DepthLevelsTrack or DepthLevelsReport of zero means unbounded.
type Config struct {
	BuyBucketUSD      float64
	SellBucketUSD     float64
	CancelBucketUSD   float64
	DepthLevelsTrack  int
	DepthLevelsReport int
}

// Tracker implements book.ChangeObserver, consuming raw level-change
// and cancel events from the reconciler plus a live trade stream. It
// owns all bucket state and its own per-side level snapshots, retained
// up to DepthLevelsTrack levels per side; no component outside this
// package mutates any of it.
type Tracker struct {
	mu sync.Mutex

	cfg Config

	buyBucket, sellBucket             TradeBucket
	cancelBuyBucket, cancelSellBucket CancelBucket

	bidLevels, askLevels map[float64]float64

	buckets BucketSink
	changes ChangeSink
}

// New constructs a tracker delivering completed buckets to buckets and
// depth-filtered level changes to changes; either sink may be nil.
func New(cfg Config, buckets BucketSink, changes ChangeSink) *Tracker {
	return &Tracker{
		cfg:       cfg,
		bidLevels: make(map[float64]float64),
		askLevels: make(map[float64]float64),
		buckets:   buckets,
		changes:   changes,
	}
}

// OnTrade feeds a trade into the buy or sell bucket per its side. This
// is the sole trigger for trade-bucket accumulation — order book
// updates never contribute to these buckets.
func (t *Tracker) OnTrade(tr wire.Trade) {
	notional := tr.Price * tr.Quantity

	t.mu.Lock()
	var fill *bucketFill
	if tr.IsBuy() {
		fill = t.accumulateTrade(&t.buyBucket, &t.sellBucket, notional, tr.TimestampNs, t.cfg.BuyBucketUSD, true)
	} else {
		fill = t.accumulateTrade(&t.sellBucket, &t.buyBucket, notional, tr.TimestampNs, t.cfg.SellBucketUSD, false)
	}
	t.mu.Unlock()

	if fill != nil && t.buckets != nil {
		t.buckets.OnTradeBucketFull(fill.isBuy, fill.durationNs, fill.sizeUSD, fill.ratio)
	}
}

// bucketFill carries a completed bucket out of the locked section so
// the sink is invoked with no tracker lock held.
type bucketFill struct {
	isBuy      bool
	durationNs uint64
	sizeUSD    float64
	ratio      float64
}

// accumulateTrade implements the shared bucket state machine: same
// bucket takes the notional as same_flow, the opposite bucket records
// it purely as opposite_flow evidence for the eventual ratio.
func (t *Tracker) accumulateTrade(same, opposite *TradeBucket, notional float64, ts uint64, sizeUSD float64, isBuy bool) *bucketFill {
	if same.empty() {
		same.StartTsNs = ts
	}
	same.AccumUSD += notional
	same.SameFlow += notional
	opposite.OppositeFlow += notional

	if same.AccumUSD < sizeUSD {
		return nil
	}
	fill := &bucketFill{
		isBuy:      isBuy,
		durationNs: ts - same.StartTsNs,
		sizeUSD:    sizeUSD,
		ratio:      same.SameFlow / (same.SameFlow + same.OppositeFlow),
	}
	same.reset()
	return fill
}

// OnLevelChange implements book.ChangeObserver: applies the delta to
// the tracker's own level snapshot, then forwards the change to the
// configured sink only when its price ranks within DepthLevelsReport of
// the top of book on its side.
func (t *Tracker) OnLevelChange(c book.LiquidityChange) {
	t.mu.Lock()
	side := t.askLevels
	if c.IsBid {
		side = t.bidLevels
	}

	if vol := side[c.Price] + c.VolumeDelta; vol > 0 {
		side[c.Price] = vol
		t.pruneLocked(side, c.IsBid)
	} else {
		delete(side, c.Price)
	}

	within := t.withinReportDepthLocked(side, c.IsBid, c.Price)
	t.mu.Unlock()

	if within && t.changes != nil {
		t.changes.OnLiquidityChange(c.Price, c.VolumeDelta, c.TimestampNs, c.IsBid)
	}
}

// pruneLocked evicts the level furthest from the top of book once the
// snapshot exceeds DepthLevelsTrack. At most one level is ever over
// budget since changes arrive one at a time.
func (t *Tracker) pruneLocked(side map[float64]float64, isBid bool) {
	if t.cfg.DepthLevelsTrack <= 0 || len(side) <= t.cfg.DepthLevelsTrack {
		return
	}
	var worst float64
	first := true
	for price := range side {
		if first || (isBid && price < worst) || (!isBid && price > worst) {
			worst = price
			first = false
		}
	}
	delete(side, worst)
}

// withinReportDepthLocked reports whether price ranks among the first
// DepthLevelsReport levels of side: fewer better-priced levels exist
// than the reporting cutoff.
func (t *Tracker) withinReportDepthLocked(side map[float64]float64, isBid bool, price float64) bool {
	if t.cfg.DepthLevelsReport <= 0 {
		return true
	}
	better := 0
	for p := range side {
		if (isBid && p > price) || (!isBid && p < price) {
			better++
		}
	}
	return better < t.cfg.DepthLevelsReport
}

// OnCancel implements book.ChangeObserver: feeds the cancel-bucket
// state machine, identical shape to the trade buckets but with
// cancel_ratio = total_usd / size_usd at emission.
func (t *Tracker) OnCancel(c book.CancelEvent) {
	t.mu.Lock()
	var fill *bucketFill
	if c.IsBid {
		fill = t.accumulateCancel(&t.cancelBuyBucket, c.CancelledUSD, c.TimestampNs, t.cfg.CancelBucketUSD, true)
	} else {
		fill = t.accumulateCancel(&t.cancelSellBucket, c.CancelledUSD, c.TimestampNs, t.cfg.CancelBucketUSD, false)
	}
	t.mu.Unlock()

	if fill != nil && t.buckets != nil {
		t.buckets.OnCancelBucketFull(fill.isBuy, fill.durationNs, fill.sizeUSD, fill.ratio)
	}
}

func (t *Tracker) accumulateCancel(b *CancelBucket, usd float64, ts uint64, sizeUSD float64, isBuy bool) *bucketFill {
	if b.StartTsNs == 0 {
		b.StartTsNs = ts
	}
	b.AccumUSD += usd
	b.TotalUSD += usd

	if b.AccumUSD < sizeUSD {
		return nil
	}
	fill := &bucketFill{
		isBuy:      isBuy,
		durationNs: ts - b.StartTsNs,
		sizeUSD:    sizeUSD,
		ratio:      b.TotalUSD / sizeUSD,
	}
	b.reset()
	return fill
}

// Reset clears all bucket state and level snapshots.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buyBucket.reset()
	t.sellBucket.reset()
	t.cancelBuyBucket.reset()
	t.cancelSellBucket.reset()
	t.bidLevels = make(map[float64]float64)
	t.askLevels = make(map[float64]float64)
}
