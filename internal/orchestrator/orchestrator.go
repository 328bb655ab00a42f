// Package orchestrator wires C1 through C8 into a running pipeline and
// owns the shared stop flag and shutdown ordering described in the
// component design: stop the feed adapter, drain the dispatcher, close
// the typed queues, then join workers in reverse dependency order.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"microbook/internal/book"
	"microbook/internal/config"
	"microbook/internal/dispatch"
	"microbook/internal/feed"
	"microbook/internal/httpapi"
	"microbook/internal/iceberg"
	"microbook/internal/liquidity"
	"microbook/internal/logging"
	"microbook/internal/metrics"
	"microbook/internal/observer"
	"microbook/internal/queue"
	"microbook/internal/ring"
	"microbook/internal/wire"
)

const queueCapacity = 4096

// Pipeline owns every long-lived component for one configured symbol
// and drives its startup/shutdown sequence.
type Pipeline struct {
	cfg *config.Config
	log *logging.Log

	buf        *ring.Buffer
	tradeQueue *queue.Queue[wire.Trade]
	bookQueue  *queue.Queue[wire.BookDiff]

	reconciler *book.Reconciler
	iceberg    *iceberg.Detector
	liquidity  *liquidity.Tracker
	metrics    *metrics.Cache
	feed       *feed.Adapter
	httpSrv    *httpapi.Server

	stopFlag       atomic.Bool
	cancel         context.CancelFunc
	dispatcherDone chan struct{}
	wg             sync.WaitGroup
}

// New wires every component per cfg but does not start any goroutines.
func New(cfg *config.Config, log *logging.Log, obs observer.Observer) *Pipeline {
	p := &Pipeline{cfg: cfg, log: log}

	p.buf = ring.New(cfg.RingCapacity)
	p.tradeQueue = queue.New[wire.Trade](queueCapacity)
	p.bookQueue = queue.New[wire.BookDiff](queueCapacity)

	p.iceberg = iceberg.New(cfg.IcebergThreshold, obs)

	p.feed = feed.New(feed.Config{
		Symbol:          cfg.Feed.Symbol,
		WSBase:          cfg.Feed.WSBase,
		HTTPBase:        cfg.Feed.HTTPBase,
		SnapshotLimit:   cfg.Feed.SnapshotLimit,
		ReconnectBaseMs: cfg.Feed.ReconnectBaseMs,
		ReconnectMaxMs:  cfg.Feed.ReconnectMaxMs,
	}, p.buf, nil, log.WithComponent("feed"))

	var audit book.AuditLogger = observer.NoopAudit{}
	if cfg.Logging.AuditDir != "" {
		audit = newAuditLogger(auditDirFor(cfg.Logging.AuditDir, cfg.Feed.Symbol), log)
	}

	p.liquidity = liquidity.New(liquidity.Config{
		BuyBucketUSD:      cfg.BuyBucketUSD,
		SellBucketUSD:     cfg.SellBucketUSD,
		CancelBucketUSD:   cfg.CancelBucketUSD,
		DepthLevelsTrack:  cfg.DepthLevelsTrack,
		DepthLevelsReport: cfg.DepthLevelsReport,
	}, obs, obs)

	p.reconciler = book.New(
		book.Config{TickSize: cfg.TickSize, CancelFraction: cfg.CancelFraction},
		p.iceberg,
		p.liquidity,
		p.feed,
		audit,
	)
	p.metrics = metrics.New(p.reconciler)
	p.feed.SetSink(snapshotSink{reconciler: p.reconciler, metrics: p.metrics})

	if cfg.HTTP.Enabled {
		p.httpSrv = httpapi.New(p.reconciler, p.metrics, p.liquidity)
	}

	return p
}

// Start launches the feed adapter, dispatcher, and worker loops. It
// returns immediately; call Shutdown to stop cleanly.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	dispatcher := dispatch.New(p.buf, p.tradeQueue, p.bookQueue)

	p.wg.Add(1)
	go func() { defer p.wg.Done(); p.feed.Run(ctx) }()

	p.dispatcherDone = make(chan struct{})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(p.dispatcherDone)
		dispatcher.Run(p.stopFlag.Load)
	}()

	p.wg.Add(1)
	go func() { defer p.wg.Done(); p.runTradeWorker() }()

	p.wg.Add(1)
	go func() { defer p.wg.Done(); p.runBookWorker() }()

	p.log.WithComponent("orchestrator").WithFields(logging.Fields{
		"symbol":        p.cfg.Feed.Symbol,
		"ring_capacity": p.cfg.RingCapacity,
	}).Info("workers started")
}

// snapshotSink refreshes the metrics cache right after a resync
// snapshot is installed, so the derived view is not stale until the
// next diff arrives.
type snapshotSink struct {
	reconciler *book.Reconciler
	metrics    *metrics.Cache
}

func (s snapshotSink) ApplySnapshot(d wire.BookDiff) {
	s.reconciler.ApplySnapshot(d)
	s.metrics.Refresh()
}

func (p *Pipeline) runTradeWorker() {
	for {
		t, ok := p.tradeQueue.Pop()
		if !ok {
			return
		}
		p.liquidity.OnTrade(t)
	}
}

func (p *Pipeline) runBookWorker() {
	for {
		d, ok := p.bookQueue.Pop()
		if !ok {
			return
		}
		p.reconciler.ApplyDiff(d)
		p.metrics.Refresh()
	}
}

// HTTPHandler exposes the operator HTTP surface, or nil if disabled.
func (p *Pipeline) HTTPHandler() *httpapi.Server { return p.httpSrv }

// Shutdown implements the orchestrator's ordered stop sequence: set the
// stop flag, stop the feed adapter (it stops writing to the ring),
// cancel the shared context so the feed's network loops exit, wait for
// the dispatcher to observe the stop flag and drain, close the typed
// queues so the worker loops exit, then join everything.
func (p *Pipeline) Shutdown() {
	p.stopFlag.Store(true)
	p.feed.Stop()
	if p.cancel != nil {
		p.cancel()
	}
	if p.dispatcherDone != nil {
		<-p.dispatcherDone
	}
	p.tradeQueue.Close()
	p.bookQueue.Close()
	p.wg.Wait()
	p.log.WithComponent("orchestrator").Info("pipeline drained and stopped")
}
