// Package dispatch runs the single consumer loop over the ring buffer:
// decode frame headers, grow a scratch buffer as needed, and fan
// decoded records out to the typed queues by tag.
package dispatch

import (
	"time"

	"microbook/internal/errs"
	"microbook/internal/logging"
	"microbook/internal/queue"
	"microbook/internal/ring"
	"microbook/internal/wire"
)

// Dispatcher reads framed records from a ring buffer and fans them out
// to a trade queue and a book queue by message tag.
type Dispatcher struct {
	r          *ring.Buffer
	trades     *queue.Queue[wire.Trade]
	bookDiffs  *queue.Queue[wire.BookDiff]
	log        *logging.Entry
	shortSleep time.Duration

	scratch []byte
}

// New constructs a dispatcher over r, delivering decoded trades and
// book diffs/snapshots to the given queues.
func New(r *ring.Buffer, trades *queue.Queue[wire.Trade], bookDiffs *queue.Queue[wire.BookDiff]) *Dispatcher {
	return &Dispatcher{
		r:          r,
		trades:     trades,
		bookDiffs:  bookDiffs,
		log:        logging.Get().WithComponent("dispatch"),
		shortSleep: time.Millisecond,
		scratch:    make([]byte, 4096),
	}
}

// Run consumes frames until stop reports true and the ring is empty.
// It is the sole consumer of r; callers must not read from r elsewhere.
func (d *Dispatcher) Run(stop func() bool) {
	header := make([]byte, wire.HeaderLen)
	for {
		if d.r.Len() < wire.HeaderLen {
			if stop() && d.r.Len() == 0 {
				return
			}
			time.Sleep(d.shortSleep)
			continue
		}
		// Peeking via Len before committing the Read means a short read
		// never happens mid-header: the bytes are only consumed once a
		// whole header is known to be present, so retrying never needs
		// to "un-advance" the ring.
		d.r.Read(header)

		typ, length, err := wire.DecodeHeader(header)
		if err != nil {
			d.log.WithError(err).Warn("malformed header")
			continue
		}

		if int(length) > len(d.scratch) {
			d.scratch = make([]byte, length)
		}
		body := d.scratch[:length]

		for d.r.Len() < int(length) {
			if stop() {
				d.log.WithError(errs.ErrShortRead).Warn("stopping with a partially buffered frame body")
				return
			}
			time.Sleep(d.shortSleep)
		}
		d.r.Read(body)

		d.decodeAndRoute(typ, body)

		if stop() && d.r.Len() == 0 {
			return
		}
	}
}

func (d *Dispatcher) decodeAndRoute(typ wire.MsgType, body []byte) {
	switch typ {
	case wire.MsgTrade:
		t, err := wire.DecodeTradeBody(body)
		if err != nil {
			d.log.WithError(err).Warn("discarding malformed trade frame")
			return
		}
		if err := d.trades.Push(t); err != nil {
			d.log.WithError(err).Warn("trade queue closed, dropping trade")
		}
	case wire.MsgBookDiff:
		bd, err := wire.DecodeBookDiffBody(body)
		if err != nil {
			d.log.WithError(err).Warn("discarding malformed book diff frame")
			return
		}
		if err := d.bookDiffs.Push(bd); err != nil {
			d.log.WithError(err).Warn("book queue closed, dropping diff")
		}
	default:
		d.log.WithFields(logging.Fields{"tag": typ}).Warn("unknown message tag, skipping body")
	}
}
