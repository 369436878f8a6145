// Package orderbook holds the process-wide order map, the client-order-id
// and execution-id allocators, and the append-only confirmation journal
// (spec §4.3). It is the sole owner of Order lifetime: every other
// component reaches an order only through the Book's accessor and
// mutator methods.
package orderbook

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"github.com/tradecore/engine/internal/schema"
)

// ConfirmationSink receives every Confirmation the book emits, in
// journal-sequence order. The position engine and the algo runtime each
// register as a sink.
type ConfirmationSink interface {
	OnConfirmation(schema.Confirmation)
}

// ConfirmationSinkFunc adapts a plain function to ConfirmationSink.
type ConfirmationSinkFunc func(schema.Confirmation)

func (f ConfirmationSinkFunc) OnConfirmation(c schema.Confirmation) { f(c) }

// Book is the order arena (spec §9 "shared-pointer orders" design note):
// orders are looked up by id on demand rather than passed around as
// live references, which breaks the order/instrument/algo reference
// cycle the original implementation had to manage manually.
type Book struct {
	mu     sync.RWMutex
	orders map[uint64]*schema.Order

	idCounter atomic.Uint64

	execIDMu sync.Mutex
	execIDs  map[string]struct{}

	journal *JournalWriter
	sinks   []ConfirmationSink

	offline bool // true during cold-recovery replay: disables journaling and publish
}

// NewBook constructs an empty book bound to journal. sinks are notified,
// in order, for every confirmation the book emits.
func NewBook(journal *JournalWriter, sinks ...ConfirmationSink) *Book {
	return &Book{
		orders:  make(map[uint64]*schema.Order),
		execIDs: make(map[string]struct{}),
		journal: journal,
		sinks:   sinks,
	}
}

// RegisterSink adds a sink after construction — used at boot time to
// wire a component (the algo runtime) that itself needs the book to
// exist first, breaking the construction cycle. Not safe to call once
// order flow has started.
func (b *Book) RegisterSink(s ConfirmationSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// SeedIDCounter implements the startup allocation rule from spec §4.3:
// the counter starts at max(journalMaxID+100000, dayOfWeek*1e7+secondsOfDay*50),
// which prevents id reuse across restarts on the same day.
func (b *Book) SeedIDCounter(journalMaxID uint64, now time.Time) {
	fromJournal := journalMaxID + 100000
	dow := uint64(now.Weekday())
	secOfDay := uint64(now.Hour()*3600 + now.Minute()*60 + now.Second())
	fromClock := dow*10_000_000 + secOfDay*50
	seed := fromJournal
	if fromClock > seed {
		seed = fromClock
	}
	b.idCounter.Store(seed)
}

func (b *Book) allocateOrderID() uint64 {
	return b.idCounter.Add(1)
}

// IsDupExecID tests and inserts atomically: a losing racer gets false
// (spec §4.3, §8 "IsDupExecId returns false exactly once per distinct x").
func (b *Book) IsDupExecID(execID string) bool {
	if execID == "" {
		return false
	}
	b.execIDMu.Lock()
	defer b.execIDMu.Unlock()
	if _, ok := b.execIDs[execID]; ok {
		return true
	}
	b.execIDs[execID] = struct{}{}
	return false
}

// Get returns a snapshot copy of the order, or nil if unknown.
func (b *Book) Get(id uint64) *schema.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[id]
	if !ok {
		return nil
	}
	return o.Clone()
}

// SetOffline toggles cold-recovery mode: while true, emit skips
// journaling and sink notification (spec §4.3 "disables further
// journaling and disables publish").
func (b *Book) SetOffline(offline bool) { b.offline = offline }

func (b *Book) store(o *schema.Order) { b.mu.Lock(); b.orders[o.ID] = o; b.mu.Unlock() }

// NewWorkingOrder allocates an id, sets UnconfirmedNew/leaves_qty=qty,
// stores the order, and emits the corresponding Confirmation (spec §4.4
// step 8, §4.3 "UnconfirmedNew is entered by Place before the adapter
// call"). Returns the allocated order so the caller (the connectivity
// manager) can pass it to the adapter.
func (b *Book) NewWorkingOrder(o *schema.Order, nowUS int64) *schema.Order {
	o.ID = b.allocateOrderID()
	o.LeavesQty = o.Qty
	o.CumQty = 0
	o.Status = schema.StatusUnconfirmedNew
	o.CreatedAtUS = nowUS
	b.store(o)
	b.emit(schema.FromOrder(o, nowUS), schema.StatusUnconfirmedNew, schema.ExecTransNew, 0, 0, "", "")
	return o
}

// FillOTC synthesizes the self-matched OTC path (spec §4.3 step 3):
// UnconfirmedNew immediately followed by a full Filled at the order's
// own price, exec id "OTC-<id>".
func (b *Book) FillOTC(o *schema.Order, nowUS int64) {
	o = b.NewWorkingOrder(o, nowUS)
	execID := fmt.Sprintf("OTC-%d", o.ID)
	b.HandleFill(o.ID, o.Qty, o.Price, execID, nowUS, false, schema.ExecTransNew)
}

// NewShadowCancel builds and stores the shadow cancel order used by
// Cancel (spec §4.3 "Cancel(orig) sequence"): a clone of orig with a
// freshly allocated id and orig_id = orig.id.
func (b *Book) NewShadowCancel(orig *schema.Order, nowUS int64) *schema.Order {
	shadow := orig.Clone()
	shadow.ID = b.allocateOrderID()
	shadow.OrigID = orig.ID
	shadow.Status = schema.StatusUnconfirmedCancel
	shadow.CreatedAtUS = nowUS
	b.store(shadow)
	b.emit(schema.FromOrder(shadow, nowUS), schema.StatusUnconfirmedCancel, schema.ExecTransNew, 0, 0, "", "")
	return shadow
}

// RejectUnplaced emits a RiskRejected confirmation for an order that
// never entered the book — a pre-allocation rejection (permission, no
// broker route, no adapter, no usable price) that fails before an id
// would otherwise be allocated (spec §4.4 steps 1-7, §7 "Permission").
// The order keeps id 0; no state is stored.
func (b *Book) RejectUnplaced(o *schema.Order, tm int64, text string) {
	o.Status = schema.StatusRiskRejected
	b.emit(schema.FromOrder(o, tm), schema.StatusRiskRejected, schema.ExecTransNew, 0, 0, "", text)
}

// resolve finds the target order by id, falling back to walking
// orig_id if the callback only carries the shadow's own id and the book
// needs the original working order (spec §4.3 callback normalisation).
func (b *Book) resolve(id uint64) *schema.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[id]
	if !ok {
		return nil
	}
	if o.OrigID != 0 {
		if orig, ok := b.orders[o.OrigID]; ok {
			return orig
		}
	}
	return o
}

// HandleNew applies the adapter's acknowledgement of a new order.
func (b *Book) HandleNew(id uint64, tm int64) {
	b.transition(id, tm, func(o *schema.Order) (schema.OrderStatus, bool) {
		if !o.Status.IsLive() {
			return o.Status, false
		}
		o.Status = schema.StatusNew
		return o.Status, true
	}, schema.ExecTransNew, 0, 0, "", "")
}

// HandlePendingNew applies the venue's "working, not yet confirmed" ack.
func (b *Book) HandlePendingNew(id uint64, tm int64) {
	b.transition(id, tm, func(o *schema.Order) (schema.OrderStatus, bool) {
		o.Status = schema.StatusPendingNew
		return o.Status, true
	}, schema.ExecTransNew, 0, 0, "", "")
}

// HandlePendingCancel applies the venue's cancel-in-flight ack.
func (b *Book) HandlePendingCancel(id uint64, tm int64) {
	b.transition(id, tm, func(o *schema.Order) (schema.OrderStatus, bool) {
		o.Status = schema.StatusPendingCancel
		return o.Status, true
	}, schema.ExecTransNew, 0, 0, "", "")
}

// HandleNewRejected marks a working order Rejected (spec §4.3).
func (b *Book) HandleNewRejected(id uint64, tm int64, text string) {
	b.transition(id, tm, func(o *schema.Order) (schema.OrderStatus, bool) {
		o.Status = schema.StatusRejected
		o.LeavesQty = 0
		return o.Status, true
	}, schema.ExecTransNew, 0, 0, "", text)
}

// HandleCancelRejected marks the shadow cancel order CancelRejected; the
// original order's status is untouched.
func (b *Book) HandleCancelRejected(id uint64, tm int64, text string) {
	b.mu.Lock()
	o, ok := b.orders[id]
	b.mu.Unlock()
	if !ok {
		logs.Debugf("orderbook: cancel-reject for unknown order id %d", id)
		return
	}
	o.Status = schema.StatusCancelRejected
	b.emit(schema.FromOrder(o, tm), schema.StatusCancelRejected, schema.ExecTransNew, 0, 0, "", text)
}

// HandleCanceled marks the original order Canceled (spec §4.3).
func (b *Book) HandleCanceled(id uint64, tm int64) {
	b.transition(id, tm, func(o *schema.Order) (schema.OrderStatus, bool) {
		if !o.Status.IsLive() {
			return o.Status, false
		}
		o.Status = schema.StatusCanceled
		o.LeavesQty = 0
		return o.Status, true
	}, schema.ExecTransCancel, 0, 0, "", "")
}

// HandleFill applies one execution report (spec §4.3, §8 examples 2-3).
// Duplicate exec ids are ignored (position untouched, not journaled
// twice). trans_type = cancel busts a prior fill by the same qty/price
// instead of adding to it; the state machine does not un-terminate a
// Filled order on a bust.
func (b *Book) HandleFill(id uint64, qty schema.Quantity, price schema.Price, execID string, tm int64, isPartial bool, transType schema.ExecTransType) {
	if qty <= 0 || price <= 0 {
		logs.Debugf("orderbook: rejecting fill with non-positive qty/price: id=%d qty=%d px=%d", id, qty, price)
		return
	}
	if b.IsDupExecID(execID) {
		logs.Debugf("orderbook: duplicate exec id %s ignored", execID)
		return
	}

	b.mu.Lock()
	o, ok := b.orders[id]
	b.mu.Unlock()
	if !ok {
		logs.Debugf("orderbook: fill for unknown order id %d", id)
		return
	}

	sign := int64(1)
	if transType == schema.ExecTransCancel {
		sign = -1
	}

	newCumQty := int64(o.CumQty) + sign*int64(qty)
	if newCumQty < 0 {
		newCumQty = 0
	}
	if newCumQty > 0 {
		o.AvgPrice = schema.Price((int64(o.AvgPrice)*int64(o.CumQty) + sign*int64(price)*int64(qty)) / newCumQty)
	} else {
		o.AvgPrice = 0
	}
	o.CumQty = schema.Quantity(newCumQty)
	o.LeavesQty = o.Qty - o.CumQty
	if o.LeavesQty < 0 {
		o.LeavesQty = 0
	}

	if transType != schema.ExecTransCancel {
		if o.CumQty >= o.Qty {
			o.Status = schema.StatusFilled
		} else if o.CumQty > 0 {
			o.Status = schema.StatusPartiallyFilled
		}
	}
	// a bust never un-terminates the order (spec §9 design note)

	execType := o.Status
	b.emit(schema.FromOrder(o, tm), execType, transType, qty, price, execID, "")
}

// transition looks the order up under the book lock, runs mutate on it
// after releasing that lock and, if mutate reports a
// change, journals and publishes the resulting Confirmation. The
// confirmation's LeavesQty is taken from the order as it stood before
// mutate ran: a terminal transition (reject/cancel) records the
// quantity that was actually left outstanding into the confirmation
// before mutate zeroes order.LeavesQty (spec §4.3), so consumers like
// the position engine's outstanding-exposure release see the real
// pre-zero value instead of always observing zero.
func (b *Book) transition(id uint64, tm int64, mutate func(*schema.Order) (schema.OrderStatus, bool), transType schema.ExecTransType, lastQty schema.Quantity, lastPx schema.Price, execID, text string) {
	b.mu.Lock()
	o, ok := b.orders[id]
	b.mu.Unlock()
	if !ok {
		logs.Debugf("orderbook: callback for unknown order id %d", id)
		return
	}
	leavesBefore := o.LeavesQty
	newStatus, changed := mutate(o)
	if !changed {
		return
	}
	c := schema.FromOrder(o, tm)
	c.LeavesQty = leavesBefore
	b.emit(c, newStatus, transType, lastQty, lastPx, execID, text)
}

// emit fills in the exec-type/trans-type/fill fields, journals the
// confirmation (unless offline), and notifies every sink.
func (b *Book) emit(c schema.Confirmation, execType schema.OrderStatus, transType schema.ExecTransType, lastQty schema.Quantity, lastPx schema.Price, execID, text string) {
	c.ExecType = execType
	c.ExecTransType = transType
	c.LastShares = lastQty
	c.LastPrice = lastPx
	c.ExecID = execID
	c.Text = text

	if b.offline {
		for _, s := range b.sinks {
			s.OnConfirmation(c)
		}
		return
	}

	if b.journal != nil {
		c.Seq = b.journal.NextSeq()
		header := schema.NewHeader(schema.EventConfirmation, c.Seq, c.TransactTimeUS, schema.NowMicros())
		if err := b.journal.Append(header, EncodeConfirmation(c)); err != nil {
			logs.Errorf("orderbook: journal append failed: %+v", err)
		}
	}
	for _, s := range b.sinks {
		s.OnConfirmation(c)
	}
}

// Recover replays the confirmation journal in cold-recovery mode (spec
// §4.3): every confirmation record is applied to the stored order
// snapshot by applyRecoveredConfirmation with the book offline, and the
// id counter is advanced past every id observed.
func (b *Book) Recover(ctx context.Context, dir, filePrefix string) error {
	b.SetOffline(true)
	defer b.SetOffline(false)

	var maxID uint64
	err := Replay(ctx, dir, filePrefix, 0, func(header schema.EventHeader, payload []byte) error {
		if header.Type != schema.EventConfirmation {
			return nil
		}
		c, err := DecodeConfirmation(payload)
		if err != nil {
			return fmt.Errorf("corrupted journal record at seq %d: %w", header.Seq, err)
		}
		if c.OrderID > maxID {
			maxID = c.OrderID
		}
		b.applyRecoveredConfirmation(c)
		return nil
	})
	if err != nil {
		return err
	}
	b.SeedIDCounter(maxID, time.Now().UTC())
	return nil
}

// applyRecoveredConfirmation reconstructs order state from one journaled
// Confirmation without re-running risk or touching the adapter.
func (b *Book) applyRecoveredConfirmation(c schema.Confirmation) {
	b.mu.Lock()
	o, ok := b.orders[c.OrderID]
	if !ok {
		o = &schema.Order{ID: c.OrderID, OrigID: c.OrigID}
		b.orders[c.OrderID] = o
	}
	b.mu.Unlock()

	o.AlgoID, o.SubAccountID, o.BrokerAccount, o.UserID, o.SecurityID = c.AlgoID, c.SubAccountID, c.BrokerAccount, c.UserID, c.SecurityID
	o.Side, o.Type, o.TimeInForce = c.Side, c.Type, c.TimeInForce
	o.Qty, o.Price, o.StopPrice = c.Qty, c.Price, c.StopPrice
	o.CumQty, o.AvgPrice, o.LeavesQty = c.CumQty, c.AvgPrice, c.LeavesQty
	o.Status = c.ExecType
	if o.CreatedAtUS == 0 {
		o.CreatedAtUS = c.TransactTimeUS
	}

	for _, s := range b.sinks {
		s.OnConfirmation(c)
	}
}
