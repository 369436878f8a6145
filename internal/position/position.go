// Package position implements the position/P&L engine (spec §4.6):
// per-(entity, security) position tracking with close-then-open
// accounting, beginning-of-day seeding, and a periodic mark-to-market
// loop.
package position

import "sync"

// Position is the per-(entity, security) record (spec §3 "Position").
// The four outstanding/filled counters mirror refdata.PositionValue's
// shape exactly — they are this security's contribution to the entity's
// aggregate exposure — but Position additionally carries the signed
// qty/avg_price/pnl fields refdata.PositionValue has no use for.
type Position struct {
	mu sync.Mutex

	Qty           int64 // signed: positive long, negative short
	AvgPrice      int64
	RealizedPnL   int64
	UnrealizedPnL int64

	BoughtQty       int64
	SoldQty         int64
	OutstandingBuy  int64
	OutstandingSell int64

	BoughtValue          int64
	SoldValue            int64
	OutstandingBuyValue  int64
	OutstandingSellValue int64
}

// Snapshot returns a lock-free value copy for readers (risk checks,
// mark-to-market, client P&L stream).
func (p *Position) Snapshot() Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *p
	cp.mu = sync.Mutex{}
	return cp
}

// HandleNew records a new working order's outstanding exposure (spec
// §4.6 "UnconfirmedNew (non-OTC)").
func (p *Position) HandleNew(isBuy bool, qty, price, multiplier int64) {
	value := qty * price * multiplier
	p.mu.Lock()
	defer p.mu.Unlock()
	if isBuy {
		p.OutstandingBuy += qty
		p.OutstandingBuyValue += value
	} else {
		p.OutstandingSell += qty
		p.OutstandingSellValue += value
	}
}

// ReleaseOutstanding removes leaves_qty exposure from the outstanding
// side on a terminal failure (spec §4.6 "Terminal failures").
func (p *Position) ReleaseOutstanding(isBuy bool, leavesQty, price, multiplier int64) {
	value := leavesQty * price * multiplier
	p.mu.Lock()
	defer p.mu.Unlock()
	if isBuy {
		p.OutstandingBuy = clampNonNeg(p.OutstandingBuy - leavesQty)
		p.OutstandingBuyValue = clampNonNeg(p.OutstandingBuyValue - value)
	} else {
		p.OutstandingSell = clampNonNeg(p.OutstandingSell - leavesQty)
		p.OutstandingSellValue = clampNonNeg(p.OutstandingSellValue - value)
	}
}

// HandleTrade applies a fill (or, if bust is true, reverses one)
// following the close-then-open accounting rule in spec §4.6:
//
//   - moves outstanding -> filled counters,
//   - if the trade reduces the signed position, realizes P&L on the
//     closed portion and keeps avg_price unless the sign flips, in
//     which case avg_price resets to the trade price for the newly
//     opened remainder,
//   - if the trade extends the position, avg_price becomes the
//     quantity-weighted mean,
//   - updates qty by the signed trade quantity.
func (p *Position) HandleTrade(isBuy bool, qty, price, multiplier int64, bust bool) {
	value := qty * price * multiplier
	tradeSign := int64(1)
	if !isBuy {
		tradeSign = -1
	}
	if bust {
		tradeSign = -tradeSign
	}
	tradeQty := tradeSign * qty

	p.mu.Lock()
	defer p.mu.Unlock()

	if !bust {
		// a normal fill converts outstanding exposure on its own side into
		// the filled bought/sold counters.
		if isBuy {
			p.OutstandingBuy = clampNonNeg(p.OutstandingBuy - qty)
			p.OutstandingBuyValue = clampNonNeg(p.OutstandingBuyValue - value)
			p.BoughtQty += qty
			p.BoughtValue += value
		} else {
			p.OutstandingSell = clampNonNeg(p.OutstandingSell - qty)
			p.OutstandingSellValue = clampNonNeg(p.OutstandingSellValue - value)
			p.SoldQty += qty
			p.SoldValue += value
		}
	} else {
		// a bust reverses only the filled counters; the outstanding side
		// was already cleared by the fill it undoes.
		if isBuy {
			p.BoughtQty -= qty
			p.BoughtValue -= value
		} else {
			p.SoldQty -= qty
			p.SoldValue -= value
		}
	}

	oldQty := p.Qty
	newQty := oldQty + tradeQty

	switch {
	case oldQty == 0 || sameSign(oldQty, tradeQty):
		// pure open (or extending an existing position in the same
		// direction): avg_price becomes the quantity-weighted mean.
		totalCost := absInt64(oldQty)*p.AvgPrice + absInt64(tradeQty)*price
		if newQty != 0 {
			p.AvgPrice = totalCost / absInt64(newQty)
		} else {
			p.AvgPrice = 0
		}
	default:
		closedQty := minInt64(absInt64(oldQty), absInt64(tradeQty))
		pnlSign := int64(1)
		if oldQty < 0 {
			pnlSign = -1
		}
		realizedSign := int64(1)
		if bust {
			realizedSign = -1
		}
		p.RealizedPnL += realizedSign * pnlSign * (price - p.AvgPrice) * closedQty * multiplier
		switch {
		case newQty == 0:
			p.AvgPrice = 0
		case absInt64(tradeQty) > absInt64(oldQty):
			// sign flip: the remainder opens a new position at the trade price.
			p.AvgPrice = price
		}
		// otherwise avg_price is unchanged (spec: "kept if only partially closed")
	}
	p.Qty = newQty
}

// Seed sets qty/avg_price/realized_pnl from a beginning-of-day snapshot.
// The outstanding/filled counters are left as they are: they are never
// loaded from the snapshot, since they describe today's order flow.
func (p *Position) Seed(qty, avgPrice, realizedPnL int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Qty = qty
	p.AvgPrice = avgPrice
	p.RealizedPnL = realizedPnL
}

// MarkToMarket recomputes unrealized_pnl at the given current price
// (spec §4.6 mark-to-market task).
func (p *Position) MarkToMarket(currentPrice, multiplier int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.UnrealizedPnL = p.Qty * (currentPrice - p.AvgPrice) * multiplier
}

func clampNonNeg(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func sameSign(a, b int64) bool {
	return (a >= 0) == (b >= 0)
}
