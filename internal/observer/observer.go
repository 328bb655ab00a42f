// Package observer defines the capability-set sink that callers supply
// once per run instead of storing callback function pointers on each
// worker. Default and recording implementations satisfy the full set.
package observer

import (
	"microbook/internal/book"
	"microbook/internal/iceberg"
	"microbook/internal/liquidity"
	"microbook/internal/logging"
	"microbook/internal/wire"
)

// Observer is the capability set of every emission a run can produce:
// trade buckets, cancel buckets, depth-filtered liquidity changes, and
// iceberg detections. A component only needs the slice of this set it
// actually cares about, expressed as the narrower interfaces in
// internal/book, internal/liquidity, and internal/iceberg.
type Observer interface {
	liquidity.BucketSink
	liquidity.ChangeSink
	iceberg.Sink
}

var _ Observer = (*LogObserver)(nil)
var _ Observer = (*Recorder)(nil)

// LogObserver is the default observer: it formats every event through
// a structured logger rather than printing from inside the workers
// that detect them.
type LogObserver struct {
	log *logging.Entry
}

// NewLogObserver constructs an observer that logs to log.
func NewLogObserver(log *logging.Entry) *LogObserver {
	return &LogObserver{log: log}
}

func (o *LogObserver) OnTradeBucketFull(isBuy bool, durationNs uint64, sizeUSD, flowRatio float64) {
	o.log.WithFields(logging.Fields{
		"side": sideName(isBuy), "duration_ns": durationNs, "size_usd": sizeUSD, "flow_ratio": flowRatio,
	}).Info("trade bucket full")
}

func (o *LogObserver) OnCancelBucketFull(isBuy bool, durationNs uint64, sizeUSD, cancelRatio float64) {
	o.log.WithFields(logging.Fields{
		"side": sideName(isBuy), "duration_ns": durationNs, "size_usd": sizeUSD, "cancel_ratio": cancelRatio,
	}).Info("cancel bucket full")
}

func (o *LogObserver) OnLiquidityChange(price, volumeDelta float64, timestampNs uint64, isBid bool) {
	o.log.WithFields(logging.Fields{
		"side": sideName(isBid), "price": price, "volume_delta": volumeDelta, "ts_ns": timestampNs,
	}).Debug("liquidity change")
}

func (o *LogObserver) OnIceberg(e iceberg.Event) {
	o.log.WithFields(logging.Fields{
		"side": sideName(e.IsBid), "price": e.Price,
	}).Info("iceberg detected")
}

func sideName(isBuyOrBid bool) string {
	if isBuyOrBid {
		return "buy"
	}
	return "sell"
}

// TradeBucketEvent, CancelBucketEvent, LiquidityChangeEvent, and
// IcebergEvent are the recorded shapes a Recorder accumulates; tests
// assert against these slices instead of re-parsing log lines.
type TradeBucketEvent struct {
	IsBuy      bool
	DurationNs uint64
	SizeUSD    float64
	FlowRatio  float64
}

type CancelBucketEvent struct {
	IsBuy       bool
	DurationNs  uint64
	SizeUSD     float64
	CancelRatio float64
}

type LiquidityChangeEvent struct {
	Price       float64
	VolumeDelta float64
	TimestampNs uint64
	IsBid       bool
}

// Recorder is a test-only observer that accumulates every event
// in order, with no formatting or filtering.
type Recorder struct {
	TradeBuckets  []TradeBucketEvent
	CancelBuckets []CancelBucketEvent
	Changes       []LiquidityChangeEvent
	Icebergs      []iceberg.Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) OnTradeBucketFull(isBuy bool, durationNs uint64, sizeUSD, flowRatio float64) {
	r.TradeBuckets = append(r.TradeBuckets, TradeBucketEvent{isBuy, durationNs, sizeUSD, flowRatio})
}

func (r *Recorder) OnCancelBucketFull(isBuy bool, durationNs uint64, sizeUSD, cancelRatio float64) {
	r.CancelBuckets = append(r.CancelBuckets, CancelBucketEvent{isBuy, durationNs, sizeUSD, cancelRatio})
}

func (r *Recorder) OnLiquidityChange(price, volumeDelta float64, timestampNs uint64, isBid bool) {
	r.Changes = append(r.Changes, LiquidityChangeEvent{price, volumeDelta, timestampNs, isBid})
}

func (r *Recorder) OnIceberg(e iceberg.Event) {
	r.Icebergs = append(r.Icebergs, e)
}

var _ book.AuditLogger = (*NoopAudit)(nil)

// NoopAudit discards audit events; the default when Logging.AuditDir
// is unset.
type NoopAudit struct{}

func (NoopAudit) LogSnapshot(wire.BookDiff)                 {}
func (NoopAudit) LogDiff(wire.BookDiff)                     {}
func (NoopAudit) LogGap(diff wire.BookDiff, current uint64) {}
