// Package metrics computes the read-mostly imbalance/spread cache: a
// short-lock snapshot of the book followed by unlocked computation,
// published via atomic pointer swap so readers never see a partial
// update.
package metrics

import (
	"sync/atomic"
	"time"

	"microbook/internal/book"
)

// Interpretation bands on an imbalance value.
const (
	StrongBuy    = "Strong Buying Pressure"
	ModerateBuy  = "Moderate Buying Pressure"
	Neutral      = "Neutral"
	ModerateSell = "Moderate Selling Pressure"
	StrongSell   = "Strong Selling Pressure"
)

// Snapshot is the published, immutable metrics record.
type Snapshot struct {
	BestBid        float64
	BestAsk        float64
	Spread         float64
	Imbalance2     float64
	Imbalance10    float64
	Imbalance20    float64
	ImbalanceAll   float64
	Interp2        string
	Interp10       string
	Interp20       string
	InterpAll      string
	TotalBidLiqUSD float64
	TotalAskLiqUSD float64
	GeneratedAtNs  int64
}

// BookView is the subset of *book.Reconciler the cache reads.
type BookView interface {
	Bids() book.Levels
	Asks() book.Levels
}

// Cache holds the latest published Snapshot behind an atomic pointer.
type Cache struct {
	view    BookView
	current atomic.Pointer[Snapshot]
	now     func() time.Time
}

// New constructs a metrics cache over view. Refresh must be called
// explicitly (on demand, or by the caller after every applied diff);
// the cache never polls on its own.
func New(view BookView) *Cache {
	c := &Cache{view: view, now: time.Now}
	c.current.Store(&Snapshot{})
	return c
}

// Refresh takes a short-lived copy of the book (the Bids()/Asks()
// calls each acquire and release the reconciler's lock internally),
// then computes the full snapshot outside any lock, and publishes it
// atomically.
func (c *Cache) Refresh() *Snapshot {
	bids := c.view.Bids() // descending: best bid first
	asks := c.view.Asks() // ascending: best ask first

	s := &Snapshot{GeneratedAtNs: c.now().UnixNano()}

	if len(bids) > 0 {
		s.BestBid = bids[0].Price
	}
	if len(asks) > 0 {
		s.BestAsk = asks[0].Price
	}
	if s.BestBid > 0 && s.BestAsk > 0 {
		s.Spread = s.BestAsk - s.BestBid
	}

	bidAll := sumNotional(bids, -1)
	askAll := sumNotional(asks, -1)
	s.TotalBidLiqUSD = bidAll
	s.TotalAskLiqUSD = askAll

	s.Imbalance2 = imbalance(sumNotional(bids, 2), sumNotional(asks, 2))
	s.Imbalance10 = imbalance(sumNotional(bids, 10), sumNotional(asks, 10))
	s.Imbalance20 = imbalance(sumNotional(bids, 20), sumNotional(asks, 20))
	s.ImbalanceAll = imbalance(bidAll, askAll)

	s.Interp2 = interpret(s.Imbalance2)
	s.Interp10 = interpret(s.Imbalance10)
	s.Interp20 = interpret(s.Imbalance20)
	s.InterpAll = interpret(s.ImbalanceAll)

	c.current.Store(s)
	return s
}

// Latest returns the most recently published snapshot without
// triggering a refresh.
func (c *Cache) Latest() *Snapshot {
	return c.current.Load()
}

// sumNotional sums price*volume over the first k levels (k<0 means all).
func sumNotional(levels book.Levels, k int) float64 {
	if k < 0 || k > len(levels) {
		k = len(levels)
	}
	var total float64
	for i := 0; i < k; i++ {
		total += levels[i].Price * levels[i].Volume
	}
	return total
}

// imbalance computes (bid-ask)/(bid+ask), with 0/0 mapped to 0.
// Positive means bid-heavy (buying pressure).
func imbalance(bidUSD, askUSD float64) float64 {
	total := bidUSD + askUSD
	if total <= 0 {
		return 0
	}
	return (bidUSD - askUSD) / total
}

func interpret(imb float64) string {
	switch {
	case imb > 0.20:
		return StrongBuy
	case imb > 0.05:
		return ModerateBuy
	case imb < -0.20:
		return StrongSell
	case imb < -0.05:
		return ModerateSell
	default:
		return Neutral
	}
}
