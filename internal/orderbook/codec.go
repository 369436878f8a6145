package orderbook

import (
	"encoding/binary"
	"errors"

	"github.com/tradecore/engine/internal/schema"
)

// ErrTruncatedRecord is returned by DecodeConfirmation when the payload
// is shorter than the fixed-size record it should contain.
var ErrTruncatedRecord = errors.New("journal: truncated confirmation record")

// EncodeConfirmation serializes a Confirmation into a fixed-size record
// plus two length-prefixed strings (ExecID, Text), the layout the
// confirmation journal persists (spec §4.3, §6).
func EncodeConfirmation(c schema.Confirmation) []byte {
	execID := []byte(c.ExecID)
	text := []byte(c.Text)
	buf := make([]byte, 0, 128+len(execID)+len(text))

	var scratch [8]byte
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(scratch[:], v)
		buf = append(buf, scratch[:]...)
	}
	putI64 := func(v int64) { putU64(uint64(v)) }
	putU32 := func(v uint32) {
		var s [4]byte
		binary.LittleEndian.PutUint32(s[:], v)
		buf = append(buf, s[:]...)
	}
	putBytes := func(b []byte) {
		putU32(uint32(len(b)))
		buf = append(buf, b...)
	}

	putU64(c.OrderID)
	buf = append(buf, byte(c.ExecType), byte(c.ExecTransType))
	putI64(int64(c.LastShares))
	putI64(int64(c.LastPrice))
	putI64(c.TransactTimeUS)
	putU64(c.Seq)
	putU32(c.AlgoID)
	putU32(c.SubAccountID)
	putU32(c.BrokerAccount)
	putU32(c.UserID)
	putU32(c.SecurityID)
	buf = append(buf, byte(c.Side), byte(c.Type), byte(c.TimeInForce))
	putI64(int64(c.Qty))
	putI64(int64(c.Price))
	putI64(int64(c.StopPrice))
	putI64(int64(c.CumQty))
	putI64(int64(c.AvgPrice))
	putI64(int64(c.LeavesQty))
	putU64(c.OrigID)
	putBytes(execID)
	putBytes(text)
	return buf
}

// DecodeConfirmation is the inverse of EncodeConfirmation, used by
// journal replay.
func DecodeConfirmation(buf []byte) (schema.Confirmation, error) {
	var c schema.Confirmation
	r := byteReader{b: buf}

	c.OrderID = r.u64()
	c.ExecType = schema.OrderStatus(r.u8())
	c.ExecTransType = schema.ExecTransType(r.u8())
	c.LastShares = schema.Quantity(r.i64())
	c.LastPrice = schema.Price(r.i64())
	c.TransactTimeUS = r.i64()
	c.Seq = r.u64()
	c.AlgoID = r.u32()
	c.SubAccountID = r.u32()
	c.BrokerAccount = r.u32()
	c.UserID = r.u32()
	c.SecurityID = r.u32()
	c.Side = schema.Side(r.u8())
	c.Type = schema.OrderType(r.u8())
	c.TimeInForce = schema.TimeInForce(r.u8())
	c.Qty = schema.Quantity(r.i64())
	c.Price = schema.Price(r.i64())
	c.StopPrice = schema.Price(r.i64())
	c.CumQty = schema.Quantity(r.i64())
	c.AvgPrice = schema.Price(r.i64())
	c.LeavesQty = schema.Quantity(r.i64())
	c.OrigID = r.u64()
	c.ExecID = string(r.bytes())
	c.Text = string(r.bytes())
	return c, r.err
}

type byteReader struct {
	b   []byte
	pos int
	err error
}

func (r *byteReader) need(n int) []byte {
	if r.err != nil || r.pos+n > len(r.b) {
		if r.err == nil {
			r.err = ErrTruncatedRecord
		}
		return make([]byte, n)
	}
	s := r.b[r.pos : r.pos+n]
	r.pos += n
	return s
}

func (r *byteReader) u8() uint8   { return r.need(1)[0] }
func (r *byteReader) u32() uint32 { return binary.LittleEndian.Uint32(r.need(4)) }
func (r *byteReader) u64() uint64 { return binary.LittleEndian.Uint64(r.need(8)) }
func (r *byteReader) i64() int64  { return int64(r.u64()) }
func (r *byteReader) bytes() []byte {
	n := r.u32()
	return r.need(int(n))
}
