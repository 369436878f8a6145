package position

import (
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"github.com/tradecore/engine/internal/refdata"
	"github.com/tradecore/engine/internal/refstore"
	"github.com/tradecore/engine/internal/schema"
)

type posKey struct {
	entity   uint32
	security uint32
}

// Engine is the process-wide position/P&L keeper (spec §4.6). It
// registers as an orderbook.ConfirmationSink and maintains three
// independent per-(entity, security) maps — one per entity kind — since
// a single fill moves exposure on the sub-account, the broker account,
// and the user simultaneously.
type Engine struct {
	cache *refdata.Cache
	store refstore.PositionWriter

	mu           sync.RWMutex
	subAccount   map[posKey]*Position
	brokerAcct   map[posKey]*Position
	user         map[posKey]*Position
}

// NewEngine constructs an Engine bound to cache (for multiplier lookups)
// and store (for async position persistence).
func NewEngine(cache *refdata.Cache, store refstore.PositionWriter) *Engine {
	return &Engine{
		cache:      cache,
		store:      store,
		subAccount: make(map[posKey]*Position),
		brokerAcct: make(map[posKey]*Position),
		user:       make(map[posKey]*Position),
	}
}

func lookup(m map[posKey]*Position, mu *sync.RWMutex, key posKey) *Position {
	mu.RLock()
	p, ok := m[key]
	mu.RUnlock()
	if ok {
		return p
	}
	mu.Lock()
	defer mu.Unlock()
	if p, ok := m[key]; ok {
		return p
	}
	p = &Position{}
	m[key] = p
	return p
}

// SubAccountPosition returns (creating if needed) the position for
// (subAccountID, securityID).
func (e *Engine) SubAccountPosition(subAccountID, securityID uint32) *Position {
	return lookup(e.subAccount, &e.mu, posKey{subAccountID, securityID})
}

// BrokerAccountPosition returns (creating if needed) the position for
// (brokerAccountID, securityID).
func (e *Engine) BrokerAccountPosition(brokerAccountID, securityID uint32) *Position {
	return lookup(e.brokerAcct, &e.mu, posKey{brokerAccountID, securityID})
}

// UserPosition returns (creating if needed) the position for
// (userID, securityID).
func (e *Engine) UserPosition(userID, securityID uint32) *Position {
	return lookup(e.user, &e.mu, posKey{userID, securityID})
}

// SubAccountSummary aggregates realized/unrealized P&L across every
// security a sub-account holds.
func (e *Engine) SubAccountSummary(subAccountID uint32) (realized, unrealized int64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for k, p := range e.subAccount {
		if k.entity != subAccountID {
			continue
		}
		snap := p.Snapshot()
		realized += snap.RealizedPnL
		unrealized += snap.UnrealizedPnL
	}
	return realized, unrealized
}

// AllSubAccountPositions returns a snapshot of every Position a
// sub-account holds, keyed by security id. The client port's pnl publish
// reads it.
func (e *Engine) AllSubAccountPositions(subAccountID uint32) map[uint32]Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[uint32]Position)
	for k, p := range e.subAccount {
		if k.entity == subAccountID {
			out[k.security] = p.Snapshot()
		}
	}
	return out
}

// OnConfirmation implements orderbook.ConfirmationSink, dispatching on
// (ExecType, ExecTransType) per the state table in spec §4.6:
//
//   - UnconfirmedNew (non-algo-shadow, non-OTC): HandleNew on all three
//     entity levels.
//   - PartiallyFilled/Filled with trans_type=new: HandleTrade.
//   - PartiallyFilled/Filled with trans_type=cancel: HandleTrade(bust=true).
//   - Any other terminal status: ReleaseOutstanding for the leaves_qty
//     that will never fill.
func (e *Engine) OnConfirmation(c schema.Confirmation) {
	sec, ok := e.cache.Security(c.SecurityID)
	if !ok {
		logs.Debugf("position: confirmation for unknown security %d", c.SecurityID)
		return
	}
	multiplier := sec.Multiplier
	isBuy := c.Side == schema.SideBuy

	switch c.ExecType {
	case schema.StatusUnconfirmedNew:
		if c.Type == schema.OrderTypeOTC {
			return
		}
		e.applyToAll(c, func(p *Position, isBuy bool, qty, price, mult int64) {
			p.HandleNew(isBuy, qty, price, mult)
		}, int64(c.Qty), int64(c.Price), multiplier, isBuy)

	case schema.StatusPartiallyFilled, schema.StatusFilled:
		if c.LastShares <= 0 {
			return
		}
		bust := c.ExecTransType == schema.ExecTransCancel
		e.applyToAll(c, func(p *Position, isBuy bool, qty, price, mult int64) {
			p.HandleTrade(isBuy, qty, price, mult, bust)
		}, int64(c.LastShares), int64(c.LastPrice), multiplier, isBuy)

	case schema.StatusRejected, schema.StatusCanceled, schema.StatusExpired,
		schema.StatusCalculated, schema.StatusDoneForDay, schema.StatusRiskRejected:
		if c.LeavesQty <= 0 {
			return
		}
		e.applyToAll(c, func(p *Position, isBuy bool, qty, price, mult int64) {
			p.ReleaseOutstanding(isBuy, qty, price, mult)
		}, int64(c.LeavesQty), int64(c.Price), multiplier, isBuy)
	}
}

func (e *Engine) applyToAll(c schema.Confirmation, fn func(p *Position, isBuy bool, qty, price, mult int64), qty, price, mult int64, isBuy bool) {
	fn(e.SubAccountPosition(c.SubAccountID, c.SecurityID), isBuy, qty, price, mult)
	fn(e.BrokerAccountPosition(c.BrokerAccount, c.SecurityID), isBuy, qty, price, mult)
	fn(e.UserPosition(c.UserID, c.SecurityID), isBuy, qty, price, mult)

	if e.store != nil {
		snap := e.SubAccountPosition(c.SubAccountID, c.SecurityID).Snapshot()
		row := refstore.PositionRow{
			UserID:          c.UserID,
			SubAccountID:    c.SubAccountID,
			SecurityID:      c.SecurityID,
			BrokerAccountID: c.BrokerAccount,
			Qty:             snap.Qty,
			AvgPrice:        snap.AvgPrice,
			RealizedPnL:     snap.RealizedPnL,
			TimeUTC:         time.Now().UTC(),
			Desc:            c.ExecType.String(),
		}
		go func() {
			if err := e.store.InsertPosition(row); err != nil {
				logs.Errorf("position: persist row failed: %+v", err)
			}
		}()
	}
}

