package algo

import (
	"sync"

	"github.com/tradecore/engine/internal/schema"
)

// Instrument is an algo-scoped view of one (source, security) binding:
// the algo's live order set plus bought/sold and outstanding-by-side
// quantities (spec §3 "Instrument").
type Instrument struct {
	Source     uint32
	SecurityID uint32
	algoID     uint32

	mu             sync.Mutex
	activeOrders   map[uint64]struct{}
	boughtQty      schema.Quantity
	soldQty        schema.Quantity
	outstandingBuy schema.Quantity
	outstandingSell schema.Quantity
}

func newInstrument(algoID, source, securityID uint32) *Instrument {
	return &Instrument{
		algoID:       algoID,
		Source:       source,
		SecurityID:   securityID,
		activeOrders: make(map[uint64]struct{}),
	}
}

// TotalQty is bought+sold quantity (spec §3 "total_qty").
func (i *Instrument) TotalQty() schema.Quantity {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.boughtQty + i.soldQty
}

// TotalOutstanding is outstanding-buy+outstanding-sell (spec §3
// "total_outstanding").
func (i *Instrument) TotalOutstanding() schema.Quantity {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.outstandingBuy + i.outstandingSell
}

// TotalExposure is total_qty+total_outstanding (spec §3 "total_exposure").
func (i *Instrument) TotalExposure() schema.Quantity {
	return i.TotalQty() + i.TotalOutstanding()
}

// LiveOrders returns a snapshot of the instrument's currently live order
// ids.
func (i *Instrument) LiveOrders() []uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	ids := make([]uint64, 0, len(i.activeOrders))
	for id := range i.activeOrders {
		ids = append(ids, id)
	}
	return ids
}

func (i *Instrument) trackNew(id uint64) {
	i.mu.Lock()
	i.activeOrders[id] = struct{}{}
	i.mu.Unlock()
}

// applyExecution updates the filled/outstanding counters based on
// exec-type (spec §4.7 "Execution callbacks" step 1): a fill increases
// bought/sold and decreases outstanding; a terminal non-fill reduces
// outstanding by leaves_qty; a fully terminal order is dropped from the
// active set.
func (i *Instrument) applyExecution(c schema.Confirmation) {
	i.mu.Lock()
	defer i.mu.Unlock()

	switch {
	case c.ExecType == schema.StatusPartiallyFilled || c.ExecType == schema.StatusFilled:
		if c.Side == schema.SideBuy {
			i.outstandingBuy = clampNonNeg(i.outstandingBuy - c.LastShares)
			i.boughtQty += c.LastShares
		} else {
			i.outstandingSell = clampNonNeg(i.outstandingSell - c.LastShares)
			i.soldQty += c.LastShares
		}
	case c.ExecType.IsTerminal():
		if c.Side == schema.SideBuy {
			i.outstandingBuy = clampNonNeg(i.outstandingBuy - c.LeavesQty)
		} else {
			i.outstandingSell = clampNonNeg(i.outstandingSell - c.LeavesQty)
		}
	case c.ExecType == schema.StatusUnconfirmedNew:
		if c.Side == schema.SideBuy {
			i.outstandingBuy += c.LeavesQty
		} else {
			i.outstandingSell += c.LeavesQty
		}
	}

	if !c.ExecType.IsLive() {
		delete(i.activeOrders, c.OrderID)
	}
}

func clampNonNeg(q schema.Quantity) schema.Quantity {
	if q < 0 {
		return 0
	}
	return q
}
