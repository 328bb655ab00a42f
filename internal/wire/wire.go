// Package wire implements the binary framing codec used inside the
// ring buffer: a 5-byte header followed by a fixed-layout body.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"microbook/internal/errs"
)

// MsgType tags a framed record's body layout.
type MsgType uint8

const (
	MsgTrade    MsgType = 0x01
	MsgBookDiff MsgType = 0x02
)

// HeaderLen is the fixed size of the {type, length} frame header.
const HeaderLen = 5

// Trade mirrors the wire layout of a single execution record.
type Trade struct {
	Price         float64
	Quantity      float64
	TimestampNs   uint64
	TradeID       uint64
	EventTimeMs   uint64
	BuyerOrderID  uint64
	SellerOrderID uint64
	Flags         uint8
}

const (
	flagIsBuy        uint8 = 1 << 0
	flagIsBuyerMaker uint8 = 1 << 1
)

func (t Trade) IsBuy() bool        { return t.Flags&flagIsBuy != 0 }
func (t Trade) IsBuyerMaker() bool { return t.Flags&flagIsBuyerMaker != 0 }

// NewTrade packs isBuy/isBuyerMaker into Flags, enforcing the
// invariant is_buy = !is_buyer_maker.
func NewTrade(price, quantity float64, timestampNs, tradeID, eventTimeMs, buyerOrderID, sellerOrderID uint64, isBuyerMaker bool) Trade {
	var flags uint8
	if isBuyerMaker {
		flags |= flagIsBuyerMaker
	} else {
		flags |= flagIsBuy
	}
	return Trade{
		Price: price, Quantity: quantity, TimestampNs: timestampNs,
		TradeID: tradeID, EventTimeMs: eventTimeMs,
		BuyerOrderID: buyerOrderID, SellerOrderID: sellerOrderID,
		Flags: flags,
	}
}

const tradeBodyLen = 8*7 + 1 // seven float64/uint64 fields + one flags byte

// EncodeTrade writes the 5-byte header and fixed body for t.
func EncodeTrade(t Trade) []byte {
	buf := make([]byte, HeaderLen+tradeBodyLen)
	writeHeader(buf, MsgTrade, tradeBodyLen)
	body := buf[HeaderLen:]
	binary.LittleEndian.PutUint64(body[0:], math.Float64bits(t.Price))
	binary.LittleEndian.PutUint64(body[8:], math.Float64bits(t.Quantity))
	binary.LittleEndian.PutUint64(body[16:], t.TimestampNs)
	binary.LittleEndian.PutUint64(body[24:], t.TradeID)
	binary.LittleEndian.PutUint64(body[32:], t.EventTimeMs)
	binary.LittleEndian.PutUint64(body[40:], t.BuyerOrderID)
	binary.LittleEndian.PutUint64(body[48:], t.SellerOrderID)
	body[56] = t.Flags
	return buf
}

// DecodeTradeBody decodes a trade body (header already stripped).
func DecodeTradeBody(body []byte) (Trade, error) {
	if len(body) < tradeBodyLen {
		return Trade{}, errs.Wrap(errs.ErrDecodeError, "trade body too short: got %d want %d", len(body), tradeBodyLen)
	}
	return Trade{
		Price:         math.Float64frombits(binary.LittleEndian.Uint64(body[0:])),
		Quantity:      math.Float64frombits(binary.LittleEndian.Uint64(body[8:])),
		TimestampNs:   binary.LittleEndian.Uint64(body[16:]),
		TradeID:       binary.LittleEndian.Uint64(body[24:]),
		EventTimeMs:   binary.LittleEndian.Uint64(body[32:]),
		BuyerOrderID:  binary.LittleEndian.Uint64(body[40:]),
		SellerOrderID: binary.LittleEndian.Uint64(body[48:]),
		Flags:         body[56],
	}, nil
}

// PriceLevel is a single book level; Volume == 0 means "remove this level".
type PriceLevel struct {
	Price  float64
	Volume float64
}

// BookDiff is the wire shape of an incremental or snapshot book update.
type BookDiff struct {
	TimestampNs   uint64
	FirstUpdateID uint64
	LastUpdateID  uint64
	Bids          []PriceLevel
	Asks          []PriceLevel
}

const bookDiffHeaderLen = 8 + 8 + 8 + 4 + 4 // timestamp, first_update_id, last_update_id, bid_count, ask_count
const priceLevelLen = 16

// EncodeBookDiff writes the 5-byte frame header and fixed body layout
// for d: {timestamp_ns, first_update_id, last_update_id, bid_count,
// ask_count, bids[...], asks[...]}.
func EncodeBookDiff(d BookDiff) []byte {
	bodyLen := bookDiffHeaderLen + priceLevelLen*(len(d.Bids)+len(d.Asks))
	buf := make([]byte, HeaderLen+bodyLen)
	writeHeader(buf, MsgBookDiff, bodyLen)

	body := buf[HeaderLen:]
	binary.LittleEndian.PutUint64(body[0:], d.TimestampNs)
	binary.LittleEndian.PutUint64(body[8:], d.FirstUpdateID)
	binary.LittleEndian.PutUint64(body[16:], d.LastUpdateID)
	binary.LittleEndian.PutUint32(body[24:], uint32(len(d.Bids)))
	binary.LittleEndian.PutUint32(body[28:], uint32(len(d.Asks)))

	off := bookDiffHeaderLen
	for _, lvl := range d.Bids {
		binary.LittleEndian.PutUint64(body[off:], math.Float64bits(lvl.Price))
		binary.LittleEndian.PutUint64(body[off+8:], math.Float64bits(lvl.Volume))
		off += priceLevelLen
	}
	for _, lvl := range d.Asks {
		binary.LittleEndian.PutUint64(body[off:], math.Float64bits(lvl.Price))
		binary.LittleEndian.PutUint64(body[off+8:], math.Float64bits(lvl.Volume))
		off += priceLevelLen
	}
	return buf
}

// DecodeBookDiffBody decodes a book diff body (header already stripped).
func DecodeBookDiffBody(body []byte) (BookDiff, error) {
	if len(body) < bookDiffHeaderLen {
		return BookDiff{}, errs.Wrap(errs.ErrDecodeError, "book diff header too short: got %d want %d", len(body), bookDiffHeaderLen)
	}
	d := BookDiff{
		TimestampNs:   binary.LittleEndian.Uint64(body[0:]),
		FirstUpdateID: binary.LittleEndian.Uint64(body[8:]),
		LastUpdateID:  binary.LittleEndian.Uint64(body[16:]),
	}
	bidCount := binary.LittleEndian.Uint32(body[24:])
	askCount := binary.LittleEndian.Uint32(body[28:])

	want := bookDiffHeaderLen + priceLevelLen*(int(bidCount)+int(askCount))
	if len(body) < want {
		return BookDiff{}, errs.Wrap(errs.ErrDecodeError, "book diff body too short: got %d want %d", len(body), want)
	}

	off := bookDiffHeaderLen
	if bidCount > 0 {
		d.Bids = make([]PriceLevel, bidCount)
	}
	for i := range d.Bids {
		d.Bids[i] = PriceLevel{
			Price:  math.Float64frombits(binary.LittleEndian.Uint64(body[off:])),
			Volume: math.Float64frombits(binary.LittleEndian.Uint64(body[off+8:])),
		}
		off += priceLevelLen
	}
	if askCount > 0 {
		d.Asks = make([]PriceLevel, askCount)
	}
	for i := range d.Asks {
		d.Asks[i] = PriceLevel{
			Price:  math.Float64frombits(binary.LittleEndian.Uint64(body[off:])),
			Volume: math.Float64frombits(binary.LittleEndian.Uint64(body[off+8:])),
		}
		off += priceLevelLen
	}
	return d, nil
}

func writeHeader(buf []byte, t MsgType, length int) {
	buf[0] = byte(t)
	binary.LittleEndian.PutUint32(buf[1:], uint32(length))
}

// DecodeHeader parses the 5-byte frame header.
func DecodeHeader(header []byte) (MsgType, uint32, error) {
	if len(header) < HeaderLen {
		return 0, 0, fmt.Errorf("%w: header needs %d bytes, got %d", errs.ErrShortRead, HeaderLen, len(header))
	}
	return MsgType(header[0]), binary.LittleEndian.Uint32(header[1:]), nil
}
