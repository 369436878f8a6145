// Package connectivity implements the exchange connectivity manager
// (spec §4.4): the Place/Cancel front door that performs adapter lookup,
// pre-trade risk, state-machine entry, and dispatch to the selected
// ExecutionAdapter, normalising adapter callbacks into orderbook.Book's
// Handle* methods.
package connectivity

import (
	"fmt"
	"sync"

	"github.com/yanun0323/logs"

	"github.com/tradecore/engine/internal/obs"
	"github.com/tradecore/engine/internal/orderbook"
	"github.com/tradecore/engine/internal/refdata"
	"github.com/tradecore/engine/internal/risk"
	"github.com/tradecore/engine/internal/schema"
)

// ExecutionAdapter is the capability-set interface a broker connection
// implements (spec §9 "dynamic dispatch across adapters"). Place/Cancel
// return a non-empty string on synchronous rejection; on success the
// adapter delivers the eventual acknowledgement asynchronously by
// calling back into the Book's Handle* methods.
type ExecutionAdapter interface {
	Name() string
	Place(o *schema.Order) string
	Cancel(o *schema.Order) string
}

// Manager is the Place/Cancel front door.
type Manager struct {
	cache *refdata.Cache
	book  *orderbook.Book
	risk  *risk.Checker

	mu       sync.RWMutex
	adapters map[string]ExecutionAdapter

	traces *obs.RequestTracer
}

// NewManager builds a Manager bound to the reference cache, order book,
// and risk checker.
func NewManager(cache *refdata.Cache, book *orderbook.Book, checker *risk.Checker) *Manager {
	return &Manager{
		cache:    cache,
		book:     book,
		risk:     checker,
		adapters: make(map[string]ExecutionAdapter),
		traces:   obs.NewRequestTracer(),
	}
}

// RegisterAdapter wires a broker connection by name (broker_account.adapter_name).
func (m *Manager) RegisterAdapter(a ExecutionAdapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[a.Name()] = a
}

func (m *Manager) adapterFor(name string) (ExecutionAdapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[name]
	return a, ok
}

// Place runs the full sequence from spec §4.4. callerUserID is the
// identity making the request (for the permission check); o.UserID is
// stamped from it. Returns true iff the order was accepted for routing
// (OTC self-fill and adapter acceptance both count as accepted).
func (m *Manager) Place(callerUserID uint32, o *schema.Order) bool {
	nowUS := schema.NowMicros()
	o.UserID = callerUserID
	traceID := m.traces.Next()
	logs.Debugf("connectivity: trace %s placing order for sub_account %d security %d", traceID, o.SubAccountID, o.SecurityID)
	reject := func(reason string) bool {
		m.book.RejectUnplaced(o, nowUS, fmt.Sprintf("%s: %s", traceID, reason))
		return false
	}

	if !m.cache.UserCanAccess(callerUserID, o.SubAccountID) {
		return reject("user not permissioned on sub-account")
	}
	sub, ok := m.cache.SubAccount(o.SubAccountID)
	if !ok {
		return reject("unknown sub-account")
	}
	sec, ok := m.cache.Security(o.SecurityID)
	if !ok {
		return reject("unknown security")
	}
	exchangeID := uint32(0)
	if ex := sec.Exchange(); ex != nil {
		exchangeID = ex.ID
	}
	brokerID, ok := sub.BrokerAccountFor(exchangeID)
	if !ok {
		return reject("no broker account routed for exchange")
	}
	o.BrokerAccount = brokerID

	if o.Type == schema.OrderTypeOTC {
		m.book.FillOTC(o, nowUS)
		return true
	}

	broker, ok := m.cache.BrokerAccount(brokerID)
	if !ok {
		return reject("unknown broker account")
	}
	adapter, ok := m.adapterFor(broker.AdapterName)
	if !ok {
		return reject(fmt.Sprintf("adapter %q missing or disconnected", broker.AdapterName))
	}

	if (o.Type == schema.OrderTypeMarket || o.Type == schema.OrderTypeStop) && o.Price <= 0 {
		o.Price = sec.CurrentPrice()
	}
	if o.Price <= 0 {
		return reject("no usable price for market/stop order")
	}

	if rerr := m.risk.Check(o, nowUS); rerr != nil {
		return reject(rerr.Error())
	}

	working := m.book.NewWorkingOrder(o, nowUS)
	if reason := adapter.Place(working); reason != "" {
		m.book.HandleNewRejected(working.ID, schema.NowMicros(), fmt.Sprintf("%s %s: %s", traceID, adapter.Name(), reason))
		return false
	}

	m.bumpThrottle(sub.ThrottleFor(o.SecurityID), &sub.Throttle, nowUS)
	m.bumpThrottle(broker.ThrottleFor(o.SecurityID), &broker.Throttle, nowUS)
	if user, ok := m.cache.User(callerUserID); ok {
		m.bumpThrottle(user.ThrottleFor(o.SecurityID), &user.Throttle, nowUS)
	}
	return true
}

func (m *Manager) bumpThrottle(perSecurity, aggregate *refdata.Throttle, nowUS int64) {
	second := nowUS / 1_000_000
	perSecurity.Bump(second)
	aggregate.Bump(second)
}

// Cancel implements spec §4.4's Cancel(orig) sequence: verify live,
// check the message-rate limit, build and store a shadow cancel order,
// then dispatch to the adapter.
func (m *Manager) Cancel(callerUserID uint32, origID uint64) bool {
	orig := m.book.Get(origID)
	if orig == nil || !orig.IsLive() {
		return false
	}
	if !m.cache.UserCanAccess(callerUserID, orig.SubAccountID) {
		return false
	}
	if rerr := m.risk.CheckMsgRate(orig, schema.NowMicros()); rerr != nil {
		// The rejected cancel never enters the book: it carries no id of
		// its own and no leaves, and points at orig through OrigID.
		rejected := orig.Clone()
		rejected.ID, rejected.OrigID, rejected.LeavesQty = 0, orig.ID, 0
		m.book.RejectUnplaced(rejected, schema.NowMicros(), rerr.Error())
		return false
	}
	broker, ok := m.cache.BrokerAccount(orig.BrokerAccount)
	if !ok {
		return false
	}
	adapter, ok := m.adapterFor(broker.AdapterName)
	if !ok {
		return false
	}

	nowUS := schema.NowMicros()
	shadow := m.book.NewShadowCancel(orig, nowUS)
	if reason := adapter.Cancel(shadow); reason != "" {
		m.book.HandleCancelRejected(shadow.ID, schema.NowMicros(), fmt.Sprintf("%s: %s", adapter.Name(), reason))
		return false
	}
	return true
}

// HandleFill logs and drops fills with a security the cache no longer
// knows about, otherwise forwards to the book unchanged. Adapters call
// this (rather than book.HandleFill directly) so an unknown-security
// edge case is caught at the connectivity boundary rather than deep in
// the order book (spec §7 "Unknown ... logged at debug; ignored").
func (m *Manager) HandleFill(id uint64, qty schema.Quantity, price schema.Price, execID string, tm int64, isPartial bool, transType schema.ExecTransType) {
	if o := m.book.Get(id); o != nil {
		if _, ok := m.cache.Security(o.SecurityID); !ok {
			logs.Debugf("connectivity: fill for order %d references unknown security %d", id, o.SecurityID)
			return
		}
	}
	m.book.HandleFill(id, qty, price, execID, tm, isPartial, transType)
}
