package algo

import (
	"time"

	"github.com/tradecore/engine/internal/schema"
)

// Context is the capability set handed to every Algo callback: market
// data subscription, timers, and order placement, all scoped to the
// algo that owns it and always invoked on that algo's shard strand.
type Context struct {
	mgr *Manager
	st  *algoState
}

func (m *Manager) newContext(st *algoState) *Context {
	return &Context{mgr: m, st: st}
}

// IsActive reports whether Stop has been called for this algo.
func (c *Context) IsActive() bool {
	return c.st.active.Load()
}

// Now returns the current wall-clock time.
func (c *Context) Now() time.Time {
	return time.Now().UTC()
}

// Subscribe registers (or returns the existing) instrument for
// (source, security), appending it to the owning shard's subscriber
// list and marking the key live on the hub (spec §4.7 "Instrument
// registration").
func (c *Context) Subscribe(source, securityID uint32) *Instrument {
	c.st.mu.Lock()
	if inst, ok := c.st.instruments[securityID]; ok {
		c.st.mu.Unlock()
		return inst
	}
	inst := newInstrument(c.st.id, source, securityID)
	c.st.instruments[securityID] = inst
	c.st.mu.Unlock()

	shard := c.st.shard
	key := instKey{source: source, securityID: securityID}
	shard.mu.Lock()
	entry, ok := shard.instrs[key]
	if !ok {
		entry = &instrumentEntry{}
		shard.instrs[key] = entry
	}
	firstSubscriber := len(entry.subscribers) == 0
	entry.subscribers = append(entry.subscribers, inst)
	shard.mu.Unlock()

	if firstSubscriber && c.mgr.hub != nil {
		c.mgr.hub.MarkLive(source, securityID)
	}
	return inst
}

// SetTimeout arms a one-shot timer; the callback runs on this algo's
// strand and early-returns if the algo has since been stopped (spec
// §4.7 "Timers").
func (c *Context) SetTimeout(d time.Duration, fn func(*Context)) {
	st := c.st
	c.mgr.timers.schedule(c.mgr.ctx, d, st.shard.strand.post, func() {
		if !st.active.Load() {
			return
		}
		fn(c.mgr.newContext(st))
	})
}

// Place stamps the order with this algo's id/user and routes it through
// the connectivity manager, tracking the resulting order id on the
// owning instrument on success.
func (c *Context) Place(o *schema.Order) bool {
	o.AlgoID = c.st.id
	o.UserID = c.st.userID
	ok := c.mgr.connectivity.Place(c.st.userID, o)
	if !ok {
		return false
	}
	c.st.mu.Lock()
	c.st.activeOrders[o.ID] = struct{}{}
	inst := c.st.instruments[o.SecurityID]
	c.st.mu.Unlock()
	if inst != nil {
		inst.trackNew(o.ID)
	}
	return true
}

// Cancel proxies to the connectivity manager's cancel sequence.
func (c *Context) Cancel(orderID uint64) bool {
	return c.mgr.connectivity.Cancel(c.st.userID, orderID)
}

// Snapshot returns the hub's current market-data view for an
// instrument's (source, security) key.
func (c *Context) Snapshot(inst *Instrument) schema.MarketData {
	if c.mgr.hub == nil {
		return schema.MarketData{}
	}
	return c.mgr.hub.Get(inst.Source, inst.SecurityID)
}

// Order returns the book's current view of an order, or nil if unknown.
func (c *Context) Order(orderID uint64) *schema.Order {
	if c.mgr.book == nil {
		return nil
	}
	return c.mgr.book.Get(orderID)
}
