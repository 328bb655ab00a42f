// Package book implements the authoritative order book and the
// snapshot+diff reconciliation protocol: sequence-gap detection,
// resync buffering, tick rounding, and level-change/cancel emission
// for the downstream iceberg detector and liquidity tracker.
package book

import (
	"math"
	"sort"
	"sync"

	"microbook/internal/logging"
	"microbook/internal/wire"
)

// State is the reconciler's sequence-gap state machine position.
type State int

const (
	Uninitialized State = iota
	Synced
	Resyncing
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Synced:
		return "synced"
	case Resyncing:
		return "resyncing"
	default:
		return "unknown"
	}
}

// LiquidityChange is emitted for every non-zero volume delta at a
// price level the reconciler just applied.
type LiquidityChange struct {
	Price       float64
	VolumeDelta float64
	TimestampNs uint64
	IsBid       bool
}

// CancelEvent is emitted when a level's volume decreases by at least
// CancelFraction of its prior volume.
type CancelEvent struct {
	IsBid        bool
	CancelledUSD float64
	TimestampNs  uint64
}

// LevelObserver receives every price level touched by an applied diff,
// post-mutation, feeding the iceberg detector (C6).
type LevelObserver interface {
	OnLevel(isBid bool, price, quantity float64)
}

// ChangeObserver receives raw (unfiltered) level-change and cancel
// events, feeding the liquidity tracker (C7).
type ChangeObserver interface {
	OnLevelChange(LiquidityChange)
	OnCancel(CancelEvent)
}

// AuditLogger records every applied snapshot, diff, and detected gap
// for operational replay. Nil disables auditing.
type AuditLogger interface {
	LogSnapshot(wire.BookDiff)
	LogDiff(wire.BookDiff)
	LogGap(diff wire.BookDiff, current uint64)
}

// SnapshotRequester is called by the reconciler when a gap is detected
// and a fresh snapshot must be fetched from the feed adapter.
type SnapshotRequester interface {
	RequestSnapshot()
}

// Reconciler owns the authoritative OrderBook for a single symbol.
type Reconciler struct {
	mu sync.Mutex

	bids map[float64]float64
	asks map[float64]float64

	lastUpdateID uint64
	state        State
	pending      []wire.BookDiff

	tickSize       float64
	cancelFraction float64

	levels    LevelObserver
	changes   ChangeObserver
	snapshots SnapshotRequester
	audit     AuditLogger
	log       *logging.Entry
}

// changeBatch collects the level, change, cancel and snapshot-request
// emissions of a locked mutation, so those observers are only ever
// called after the book lock is released. The audit logger is not
// batched: it is called with the book lock held.
type changeBatch struct {
	levels       []levelTouch
	changes      []LiquidityChange
	cancels      []CancelEvent
	needSnapshot bool
}

type levelTouch struct {
	isBid    bool
	price    float64
	quantity float64
}

// Config holds the subset of pipeline configuration the reconciler needs.
type Config struct {
	TickSize       float64
	CancelFraction float64
}

// New constructs a reconciler in the Uninitialized state. levels and
// changes may be nil to disable the corresponding downstream feed
// (useful in tests exercising the book alone); snapshots and audit may
// also be nil.
func New(cfg Config, levels LevelObserver, changes ChangeObserver, snapshots SnapshotRequester, audit AuditLogger) *Reconciler {
	return &Reconciler{
		bids:           make(map[float64]float64),
		asks:           make(map[float64]float64),
		state:          Uninitialized,
		tickSize:       cfg.TickSize,
		cancelFraction: cfg.CancelFraction,
		levels:         levels,
		changes:        changes,
		snapshots:      snapshots,
		audit:          audit,
		log:            logging.Get().WithComponent("book"),
	}
}

// State reports the current reconciliation state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastUpdateID reports the sequence number of the last applied update.
func (r *Reconciler) LastUpdateID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUpdateID
}

// ApplySnapshot replaces the book wholesale with snap and transitions
// to Synced, then drains and re-applies any diffs buffered while
// Uninitialized or Resyncing, per the sequence-gap protocol.
func (r *Reconciler) ApplySnapshot(snap wire.BookDiff) {
	r.mu.Lock()
	var batch changeBatch

	r.bids = make(map[float64]float64, len(snap.Bids))
	r.asks = make(map[float64]float64, len(snap.Asks))
	for _, lvl := range snap.Bids {
		if lvl.Volume > 0 {
			r.bids[roundToTick(lvl.Price, r.tickSize)] = lvl.Volume
		}
	}
	for _, lvl := range snap.Asks {
		if lvl.Volume > 0 {
			r.asks[roundToTick(lvl.Price, r.tickSize)] = lvl.Volume
		}
	}

	s := snap.LastUpdateID
	r.lastUpdateID = s
	r.state = Synced
	if r.audit != nil {
		r.audit.LogSnapshot(snap)
	}

	pending := r.pending
	r.pending = nil

	bridged := false
	for _, d := range pending {
		if r.state != Synced {
			r.pending = append(r.pending, d)
			continue
		}
		if d.LastUpdateID <= r.lastUpdateID {
			continue // stale relative to the snapshot, discard
		}
		if !bridged {
			if d.FirstUpdateID <= r.lastUpdateID+1 {
				r.applyDiffLocked(d, &batch)
				bridged = true
			}
			continue
		}
		r.applySyncedDiffLocked(d, &batch)
	}

	r.mu.Unlock()
	r.emit(&batch)
}

// ApplyDiff validates continuity against the current state and
// mutates the book incrementally, or buffers/resyncs per the
// sequence-gap protocol.
func (r *Reconciler) ApplyDiff(diff wire.BookDiff) {
	r.mu.Lock()
	var batch changeBatch

	switch r.state {
	case Uninitialized, Resyncing:
		r.pending = append(r.pending, diff)
		batch.needSnapshot = true
	case Synced:
		r.applySyncedDiffLocked(diff, &batch)
	}

	r.mu.Unlock()
	r.emit(&batch)
}

func (r *Reconciler) applySyncedDiffLocked(diff wire.BookDiff, batch *changeBatch) {
	if diff.LastUpdateID <= r.lastUpdateID {
		return // duplicate, ignore
	}
	if diff.FirstUpdateID <= r.lastUpdateID+1 {
		r.applyDiffLocked(diff, batch)
		return
	}

	r.log.WithFields(logging.Fields{
		"current":         r.lastUpdateID,
		"first_update_id": diff.FirstUpdateID,
		"last_update_id":  diff.LastUpdateID,
	}).Warn("sequence gap detected, resyncing")
	if r.audit != nil {
		r.audit.LogGap(diff, r.lastUpdateID)
	}
	r.state = Resyncing
	batch.needSnapshot = true
}

// applyDiffLocked merges diff into the book, collects level-change and
// cancel events into batch, and advances lastUpdateID. Caller holds
// r.mu; the batch is emitted by the caller after unlocking.
func (r *Reconciler) applyDiffLocked(diff wire.BookDiff, batch *changeBatch) {
	r.applySideLocked(diff.Bids, true, r.bids, diff.TimestampNs, batch)
	r.applySideLocked(diff.Asks, false, r.asks, diff.TimestampNs, batch)
	r.lastUpdateID = diff.LastUpdateID
	if r.audit != nil {
		r.audit.LogDiff(diff)
	}
}

func (r *Reconciler) applySideLocked(levels []wire.PriceLevel, isBid bool, side map[float64]float64, ts uint64, batch *changeBatch) {
	for _, lvl := range levels {
		price := roundToTick(lvl.Price, r.tickSize)
		prevVol := side[price]
		newVol := lvl.Volume

		if newVol <= 0 {
			newVol = 0
			if prevVol > 0 {
				delete(side, price)
				batch.changes = append(batch.changes, LiquidityChange{Price: price, VolumeDelta: -prevVol, TimestampNs: ts, IsBid: isBid})
				r.checkCancel(isBid, price, prevVol, 0, ts, batch)
			}
		} else {
			side[price] = newVol
			if delta := newVol - prevVol; delta != 0 {
				batch.changes = append(batch.changes, LiquidityChange{Price: price, VolumeDelta: delta, TimestampNs: ts, IsBid: isBid})
			}
			r.checkCancel(isBid, price, prevVol, newVol, ts, batch)
		}

		batch.levels = append(batch.levels, levelTouch{isBid: isBid, price: price, quantity: newVol})
	}
}

// checkCancel records a CancelEvent when volume decreased by at least
// CancelFraction of its prior value, with cancelled_usd = actual
// decrease * price.
func (r *Reconciler) checkCancel(isBid bool, price, prevVol, newVol float64, ts uint64, batch *changeBatch) {
	if prevVol <= 0 {
		return
	}
	decrease := prevVol - newVol
	if decrease <= 0 {
		return
	}
	if decrease < r.cancelFraction*prevVol {
		return
	}
	batch.cancels = append(batch.cancels, CancelEvent{IsBid: isBid, CancelledUSD: decrease * price, TimestampNs: ts})
}

// emit delivers a collected batch to the observers with no lock held.
func (r *Reconciler) emit(batch *changeBatch) {
	if r.levels != nil {
		for _, l := range batch.levels {
			r.levels.OnLevel(l.isBid, l.price, l.quantity)
		}
	}
	if r.changes != nil {
		for _, c := range batch.changes {
			r.changes.OnLevelChange(c)
		}
		for _, c := range batch.cancels {
			r.changes.OnCancel(c)
		}
	}
	if batch.needSnapshot && r.snapshots != nil {
		r.snapshots.RequestSnapshot()
	}
}

// roundToTick implements round(price/tick)*tick, passing price through
// unchanged when tick <= 0.
func roundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}

// Levels is a snapshot of one side of the book, ordered as described
// by the Bids/Asks methods.
type Levels []wire.PriceLevel

// Bids returns a snapshot of the bid side, sorted descending by price
// (best bid first).
func (r *Reconciler) Bids() Levels {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(Levels, 0, len(r.bids))
	for p, v := range r.bids {
		out = append(out, wire.PriceLevel{Price: p, Volume: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	return out
}

// Asks returns a snapshot of the ask side, sorted ascending by price
// (best ask first).
func (r *Reconciler) Asks() Levels {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(Levels, 0, len(r.asks))
	for p, v := range r.asks {
		out = append(out, wire.PriceLevel{Price: p, Volume: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}
