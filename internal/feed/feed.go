// Package feed is the concrete feed adapter: WebSocket transport,
// JSON decoding into typed records, reconnect/backoff, and the
// request_snapshot() hook the reconciler calls on gap recovery. It is
// the sole producer onto the byte ring (internal/ring) and the sole
// caller of the reconciler's ApplySnapshot method.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"microbook/internal/logging"
	"microbook/internal/ring"
	"microbook/internal/wire"
)

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// SnapshotSink receives the full-replacement book snapshot fetched in
// response to RequestSnapshot. Implemented by *book.Reconciler via
// ApplySnapshot.
type SnapshotSink interface {
	ApplySnapshot(wire.BookDiff)
}

// Config describes a single venue/symbol the adapter connects to.
type Config struct {
	Symbol          string
	WSBase          string
	HTTPBase        string
	SnapshotLimit   int
	ReconnectBaseMs int
	ReconnectMaxMs  int
}

func (c Config) depthStreamURL() string {
	return fmt.Sprintf("%s/ws/%s@depth@100ms", c.WSBase, strings.ToLower(c.Symbol))
}

func (c Config) tradeStreamURL() string {
	return fmt.Sprintf("%s/ws/%s@trade", c.WSBase, strings.ToLower(c.Symbol))
}

func (c Config) snapshotURL() string {
	u, _ := url.Parse(c.HTTPBase + "/api/v3/depth")
	q := u.Query()
	q.Set("symbol", strings.ToUpper(c.Symbol))
	limit := c.SnapshotLimit
	if limit <= 0 {
		limit = 1000
	}
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()
	return u.String()
}

// Adapter is the concrete feed adapter. It frames Trade and BookDiff
// records into the ring; book snapshots bypass the ring entirely and
// are delivered directly to the injected SnapshotSink, since they are
// fetched out-of-band over HTTP rather than streamed.
type Adapter struct {
	cfg    Config
	ring   *ring.Buffer
	sink   SnapshotSink
	client *http.Client
	log    *logging.Entry

	stopped      atomic.Bool
	snapshotReqs chan struct{}
	writeMu      sync.Mutex
}

// New constructs an adapter writing framed records into r and calling
// sink on every successfully fetched snapshot.
func New(cfg Config, r *ring.Buffer, sink SnapshotSink, log *logging.Entry) *Adapter {
	return &Adapter{
		cfg: cfg,
		ring: r,
		sink: sink,
		client: &http.Client{
			Timeout: 8 * time.Second,
			Transport: &http.Transport{
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: 5 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		log:          log,
		snapshotReqs: make(chan struct{}, 1),
	}
}

// SetSink installs the snapshot sink after construction, for callers
// that must build the reconciler after the adapter (the reconciler
// needs the adapter as its SnapshotRequester).
func (a *Adapter) SetSink(sink SnapshotSink) { a.sink = sink }

// RequestSnapshot implements book.SnapshotRequester. The call is
// non-blocking and coalesces: a pending request already covers any
// additional gap detected before it is serviced.
func (a *Adapter) RequestSnapshot() {
	select {
	case a.snapshotReqs <- struct{}{}:
	default:
	}
}

// Run drives the depth stream, trade stream, and snapshot-fetch loop
// until ctx is cancelled, and returns once all three have exited. Stop
// alone does not end loops that are blocked waiting (see Stop).
func (a *Adapter) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); a.streamLoop(ctx, a.cfg.depthStreamURL(), "depth", a.handleDepthMessage) }()
	go func() { defer wg.Done(); a.streamLoop(ctx, a.cfg.tradeStreamURL(), "trade", a.handleTradeMessage) }()
	go func() { defer wg.Done(); a.snapshotLoop(ctx) }()
	wg.Wait()
}

// Stop marks the adapter stopped. The stream loops check the flag
// before each dial and each read, and the snapshot loop before each
// fetch; a read already blocked on the connection, a backoff sleep in
// progress, or a snapshot loop waiting for a request ends only when ctx
// is cancelled.
func (a *Adapter) Stop() { a.stopped.Store(true) }

func (a *Adapter) stopping() bool { return a.stopped.Load() }

// streamLoop dials streamURL, reconnecting with exponential backoff on
// failure, and hands every text message to handle.
func (a *Adapter) streamLoop(ctx context.Context, streamURL, name string, handle func([]byte)) {
	backoff := a.backoffFloor()
	for {
		if ctx.Err() != nil || a.stopping() {
			return
		}
		dialCtx, cancel := context.WithCancel(ctx)
		ws, _, err := websocket.Dial(dialCtx, streamURL, nil)
		if err != nil {
			a.log.WithError(err).WithFields(logging.Fields{"stream": name}).Warn("dial failed, backing off")
			cancel()
			if !a.sleepBackoff(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, a.backoffCeiling())
			continue
		}
		ws.SetReadLimit(1 << 20)
		backoff = a.backoffFloor()

		err = a.consume(dialCtx, ws, handle)
		ws.Close(websocket.StatusNormalClosure, "shutdown")
		cancel()
		if err != nil && ctx.Err() == nil {
			a.log.WithError(err).WithFields(logging.Fields{"stream": name}).Warn("stream error, reconnecting")
			if !a.sleepBackoff(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, a.backoffCeiling())
		}
	}
}

func (a *Adapter) consume(ctx context.Context, ws *websocket.Conn, handle func([]byte)) error {
	for {
		if a.stopping() {
			return nil
		}
		msgType, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		if msgType != websocket.MessageText {
			continue
		}
		handle(data)
	}
}

func (a *Adapter) sleepBackoff(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(addJitter(d)):
		return true
	}
}

func (a *Adapter) backoffFloor() time.Duration {
	if a.cfg.ReconnectBaseMs > 0 {
		return time.Duration(a.cfg.ReconnectBaseMs) * time.Millisecond
	}
	return minBackoff
}

func (a *Adapter) backoffCeiling() time.Duration {
	if a.cfg.ReconnectMaxMs > 0 {
		return time.Duration(a.cfg.ReconnectMaxMs) * time.Millisecond
	}
	return maxBackoff
}

func nextBackoff(cur, ceiling time.Duration) time.Duration {
	cur *= 2
	if cur > ceiling {
		cur = ceiling
	}
	return cur
}

func addJitter(d time.Duration) time.Duration {
	jitter := time.Duration(rand.Int64N(int64(d) / 2))
	return d + jitter
}

// wsDepthDiff mirrors the exchange's incremental depth-update payload.
type wsDepthDiff struct {
	EventTimeMs   int64      `json:"E"`
	FirstUpdateID uint64     `json:"U"`
	LastUpdateID  uint64     `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// wsTrade mirrors the exchange's trade-stream payload.
type wsTrade struct {
	TradeID       uint64 `json:"t"`
	Price         string `json:"p"`
	Quantity      string `json:"q"`
	BuyerOrderID  uint64 `json:"b"`
	SellerOrderID uint64 `json:"a"`
	TradeTimeMs   uint64 `json:"T"`
	IsBuyerMaker  bool   `json:"m"`
}

func (a *Adapter) handleDepthMessage(data []byte) {
	var msg wsDepthDiff
	if err := json.Unmarshal(data, &msg); err != nil {
		a.log.WithError(err).Warn("malformed depth message, discarded")
		return
	}
	bids, err := parseLevels(msg.Bids)
	if err != nil {
		a.log.WithError(err).Warn("malformed depth bids, discarded")
		return
	}
	asks, err := parseLevels(msg.Asks)
	if err != nil {
		a.log.WithError(err).Warn("malformed depth asks, discarded")
		return
	}
	diff := wire.BookDiff{
		TimestampNs:   uint64(msg.EventTimeMs) * uint64(time.Millisecond),
		FirstUpdateID: msg.FirstUpdateID,
		LastUpdateID:  msg.LastUpdateID,
		Bids:          bids,
		Asks:          asks,
	}
	a.write(wire.EncodeBookDiff(diff))
}

func (a *Adapter) handleTradeMessage(data []byte) {
	var msg wsTrade
	if err := json.Unmarshal(data, &msg); err != nil {
		a.log.WithError(err).Warn("malformed trade message, discarded")
		return
	}
	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil {
		a.log.WithError(err).Warn("malformed trade price, discarded")
		return
	}
	qty, err := strconv.ParseFloat(msg.Quantity, 64)
	if err != nil {
		a.log.WithError(err).Warn("malformed trade quantity, discarded")
		return
	}
	t := wire.NewTrade(price, qty, uint64(msg.TradeTimeMs)*uint64(time.Millisecond),
		msg.TradeID, msg.TradeTimeMs, msg.BuyerOrderID, msg.SellerOrderID, msg.IsBuyerMaker)
	a.write(wire.EncodeTrade(t))
}

// write frames data into the ring. Frames are written whole or not at
// all: a partially written frame would desynchronize the consumer's
// header/body parse permanently, whereas a wholly dropped diff just
// surfaces as a sequence gap the reconciler resyncs over. The depth and
// trade streams both call write, so calls are serialized to keep the
// ring single-producer. The producer never waits on the consumer.
func (a *Adapter) write(framed []byte) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if free := a.ring.Capacity() - 1 - a.ring.Len(); free < len(framed) {
		a.log.WithFields(logging.Fields{"free": free, "want": len(framed)}).Warn("ring full, frame dropped")
		return
	}
	a.ring.Write(framed)
}

func parseLevels(raw [][]string) ([]wire.PriceLevel, error) {
	levels := make([]wire.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) != 2 {
			return nil, fmt.Errorf("malformed level entry: %v", pair)
		}
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			return nil, err
		}
		volume, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			return nil, err
		}
		levels = append(levels, wire.PriceLevel{Price: price, Volume: volume})
	}
	return levels, nil
}

// snapshotLoop services RequestSnapshot calls by fetching the REST
// depth snapshot and delivering it directly to the sink.
func (a *Adapter) snapshotLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.snapshotReqs:
			if a.stopping() {
				return
			}
			snap, err := a.fetchSnapshot(ctx)
			if err != nil {
				a.log.WithError(err).Warn("snapshot fetch failed, will retry on next gap")
				continue
			}
			a.sink.ApplySnapshot(snap)
		}
	}
}

type restDepthSnapshot struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func (a *Adapter) fetchSnapshot(ctx context.Context) (wire.BookDiff, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.snapshotURL(), nil)
	if err != nil {
		return wire.BookDiff{}, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return wire.BookDiff{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return wire.BookDiff{}, fmt.Errorf("snapshot request failed: %s: %s", resp.Status, body)
	}

	var raw restDepthSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return wire.BookDiff{}, err
	}
	bids, err := parseLevels(raw.Bids)
	if err != nil {
		return wire.BookDiff{}, err
	}
	asks, err := parseLevels(raw.Asks)
	if err != nil {
		return wire.BookDiff{}, err
	}
	return wire.BookDiff{
		LastUpdateID:  raw.LastUpdateID,
		FirstUpdateID: raw.LastUpdateID,
		Bids:          bids,
		Asks:          asks,
	}, nil
}
