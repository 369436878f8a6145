package algo

import (
	"encoding/binary"
	"fmt"

	"github.com/tradecore/engine/internal/orderbook"
	"github.com/tradecore/engine/internal/schema"
)

// AlgoStatus is the status word carried by an algo journal record.
type AlgoStatus string

const (
	StatusNew        AlgoStatus = "new"
	StatusTerminated AlgoStatus = "terminated"
	StatusFailed     AlgoStatus = "failed"
)

// EventJournal wraps a JournalWriter with the algo event body format
// from spec §4.7: "<epoch> <name> <status> <body>" plus the record's
// user_id/algo_id, NUL-terminated then newline-terminated (parallel to,
// but independent from, the order confirmation journal).
type EventJournal struct {
	w *orderbook.JournalWriter
}

// NewEventJournal wraps an already-started JournalWriter.
func NewEventJournal(w *orderbook.JournalWriter) *EventJournal {
	return &EventJournal{w: w}
}

// EncodeRecord builds the body: 4-byte user_id, 4-byte algo_id, then the
// text body, NUL, newline.
func EncodeRecord(userID, algoID uint32, epoch int64, name string, status AlgoStatus, body string) []byte {
	text := fmt.Sprintf("%d %s %s %s", epoch, name, status, body)
	buf := make([]byte, 8+len(text)+2)
	binary.LittleEndian.PutUint32(buf[0:4], userID)
	binary.LittleEndian.PutUint32(buf[4:8], algoID)
	copy(buf[8:], text)
	buf[8+len(text)] = 0
	buf[8+len(text)+1] = '\n'
	return buf
}

// Append journals one algo status transition.
func (j *EventJournal) Append(userID, algoID uint32, name string, status AlgoStatus, body string, nowUS int64) error {
	seq := j.w.NextSeq()
	header := schema.NewHeader(schema.EventAlgoStatus, seq, nowUS, schema.NowMicros())
	payload := EncodeRecord(userID, algoID, nowUS/1_000_000, name, status, body)
	return j.w.Append(header, payload)
}
