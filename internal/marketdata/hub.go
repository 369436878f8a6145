package marketdata

import (
	"sync"

	"github.com/yanun0323/logs"

	"github.com/tradecore/engine/internal/refdata"
	"github.com/tradecore/engine/internal/schema"
)

// route is one entry of the hub's (source, exchange) -> [adapter...]
// table. Selection among several adapters covering the same market is
// stable sharding by security.id mod len(adapters), never load
// balancing (spec §4.2).
type route struct {
	adapters []Adapter
}

func (r *route) pick(securityID uint32) Adapter {
	if len(r.adapters) == 0 {
		return nil
	}
	return r.adapters[securityID%uint32(len(r.adapters))]
}

type snapshotKey struct {
	source     uint32
	securityID uint32
}

// Hub is the market-data distribution fabric (spec §4.2). It owns every
// snapshot; algos and the client port only ever read through Hub's
// accessor methods.
type Hub struct {
	mu sync.RWMutex

	snapshots map[snapshotKey]*schema.MarketData
	routes    map[uint32]map[uint32]*route // exchangeID -> sourceTag -> route
	adapters  map[string]Adapter

	subsMu sync.RWMutex
	subs   map[snapshotKey]struct{} // (source, security) with at least one live algo subscription

	cache *refdata.Cache
	sink  WakeupSink
}

// New builds an empty hub. RegisterAdapter must be called for every
// configured MarketDataAdapter before subscriptions can route.
func New(cache *refdata.Cache, sink WakeupSink) *Hub {
	return &Hub{
		snapshots: make(map[snapshotKey]*schema.MarketData),
		routes:    make(map[uint32]map[uint32]*route),
		adapters:  make(map[string]Adapter),
		subs:      make(map[snapshotKey]struct{}),
		cache:     cache,
		sink:      sink,
	}
}

// RegisterAdapter wires an adapter into the routing table for every
// exchange it declares coverage for. Adapters sharing an exchange are
// appended to the same route in registration order, so shard selection
// is deterministic given a fixed configuration.
func (h *Hub) RegisterAdapter(a Adapter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.adapters[a.Name()] = a
	for _, exID := range a.Exchanges() {
		bySource, ok := h.routes[exID]
		if !ok {
			bySource = make(map[uint32]*route)
			h.routes[exID] = bySource
		}
		r, ok := bySource[a.Source()]
		if !ok {
			r = &route{}
			bySource[a.Source()] = r
		}
		r.adapters = append(r.adapters, a)
	}
}

// Subscribe picks a route for (security, source) — the default adapter
// if the security's exchange has no explicit routing for that source —
// and tells it to subscribe. Subscribing twice is a no-op, guaranteed by
// the adapter's own subscription set (spec §4.2), so Subscribe here does
// not track idempotence itself.
func (h *Hub) Subscribe(securityID uint32, exchangeID uint32, source uint32) (Adapter, error) {
	h.mu.RLock()
	var a Adapter
	if bySource, ok := h.routes[exchangeID]; ok {
		if r, ok := bySource[source]; ok {
			a = r.pick(securityID)
		}
		if a == nil {
			if r, ok := bySource[0]; ok { // default route
				a = r.pick(securityID)
			}
		}
	}
	h.mu.RUnlock()
	if a == nil {
		return nil, errNoRoute{exchangeID: exchangeID, source: source}
	}
	if err := a.Subscribe(securityID); err != nil {
		return nil, err
	}
	return a, nil
}

// MarkLive registers that an algo now holds a live subscription at
// (source, security); Wakeup only fires for keys marked live.
func (h *Hub) MarkLive(source, securityID uint32) {
	h.subsMu.Lock()
	h.subs[snapshotKey{source: source, securityID: securityID}] = struct{}{}
	h.subsMu.Unlock()
}

// MarkIdle removes the wake-up registration for (source, security). The
// algo runtime never calls it: a key stays live once an algo marks it.
func (h *Hub) MarkIdle(source, securityID uint32) {
	h.subsMu.Lock()
	delete(h.subs, snapshotKey{source: source, securityID: securityID})
	h.subsMu.Unlock()
}

func (h *Hub) isLive(source, securityID uint32) bool {
	h.subsMu.RLock()
	defer h.subsMu.RUnlock()
	_, ok := h.subs[snapshotKey{source: source, securityID: securityID}]
	return ok
}

// Get returns the current snapshot for (source, security), or the zero
// value if none has arrived yet.
func (h *Hub) Get(source, securityID uint32) schema.MarketData {
	h.mu.RLock()
	defer h.mu.RUnlock()
	md, ok := h.snapshots[snapshotKey{source: source, securityID: securityID}]
	if !ok {
		return schema.MarketData{}
	}
	return *md
}

// LastPrice implements refdata.PriceSource by returning the trade close
// of whichever source's snapshot for the security was updated most
// recently (0 when there is none, or when that snapshot has no trade
// yet). Callers that need one specific source read through Get instead.
func (h *Hub) LastPrice(securityID uint32) schema.Price {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var best schema.Price
	var bestTm int64
	for k, md := range h.snapshots {
		if k.securityID != securityID {
			continue
		}
		if md.Tm > bestTm {
			bestTm = md.Tm
			best = md.Trade.Close
		}
	}
	return best
}

func (h *Hub) snapshot(key snapshotKey) *schema.MarketData {
	md, ok := h.snapshots[key]
	if !ok {
		md = &schema.MarketData{}
		h.snapshots[key] = md
	}
	return md
}

func (h *Hub) notify(source, securityID uint32) {
	if h.sink == nil {
		return
	}
	if !h.isLive(source, securityID) {
		return
	}
	h.sink.Wakeup(source, securityID)
}

// UpdateTrade applies one trade tick per the update rule in spec §4.2:
// open latches on the first update, high/low ratchet, close replaces,
// vwap is computed on the pre-update volume, then volume accumulates.
func (h *Hub) UpdateTrade(source, securityID uint32, tm int64, price schema.Price, qty schema.Quantity) {
	key := snapshotKey{source: source, securityID: securityID}
	h.mu.Lock()
	md := h.snapshot(key)
	t := &md.Trade
	if t.Open == 0 {
		t.Open = price
	}
	if t.High < price {
		t.High = price
	}
	if t.Low == 0 || price < t.Low {
		t.Low = price
	}
	t.Close = price
	if total := int64(t.Volume) + int64(qty); total > 0 {
		t.VWAP = schema.Price((int64(t.Volume)*int64(t.VWAP) + int64(qty)*int64(price)) / total)
	}
	t.Volume += qty
	t.Qty = qty
	md.Tm = tm
	h.mu.Unlock()

	h.notify(source, securityID)
}

// UpdateQuote replaces one depth level in place (spec §4.2).
func (h *Hub) UpdateQuote(source, securityID uint32, tm int64, level int, q schema.Quote) {
	if level < 0 || level >= schema.DepthLevels {
		logs.Errorf("marketdata: quote level %d out of range", level)
		return
	}
	key := snapshotKey{source: source, securityID: securityID}
	h.mu.Lock()
	md := h.snapshot(key)
	md.Depth[level] = q
	md.Tm = tm
	h.mu.Unlock()

	h.applyForexConvention(source, securityID)
	h.notify(source, securityID)
}

// UpdateBid/UpdateAsk are the per-field mutators the port
// exposes for adapters that stream individual fields rather than whole
// quote levels (spec §4.4).
func (h *Hub) UpdateBid(source, securityID uint32, tm int64, price schema.Price, size schema.Quantity) {
	h.updateField(source, securityID, tm, func(q *schema.Quote) { q.BidPrice = price; q.BidSize = size })
}

func (h *Hub) UpdateAsk(source, securityID uint32, tm int64, price schema.Price, size schema.Quantity) {
	h.updateField(source, securityID, tm, func(q *schema.Quote) { q.AskPrice = price; q.AskSize = size })
}

func (h *Hub) updateField(source, securityID uint32, tm int64, mutate func(*schema.Quote)) {
	key := snapshotKey{source: source, securityID: securityID}
	h.mu.Lock()
	md := h.snapshot(key)
	mutate(&md.Depth[0])
	md.Tm = tm
	h.mu.Unlock()

	h.applyForexConvention(source, securityID)
	h.notify(source, securityID)
}

// applyForexConvention recomputes the synthetic mid-as-last-trade
// update for forex_pair securities after any top-of-book change (spec
// §4.2 "Forex convention"): if both sides are positive, the mid price
// becomes a zero-size last trade.
func (h *Hub) applyForexConvention(source, securityID uint32) {
	if h.cache == nil {
		return
	}
	sec, ok := h.cache.Security(securityID)
	if !ok || sec.Type != refdata.SecurityTypeForexPair {
		return
	}
	key := snapshotKey{source: source, securityID: securityID}
	h.mu.Lock()
	md := h.snapshot(key)
	top := md.Depth[0]
	if top.BidPrice > 0 && top.AskPrice > 0 {
		mid := (top.BidPrice + top.AskPrice) / 2
		md.Trade.Close = mid
		md.Trade.Qty = 0
	}
	h.mu.Unlock()
}

type errNoRoute struct {
	exchangeID uint32
	source     uint32
}

func (e errNoRoute) Error() string {
	return "marketdata: no adapter route for exchange/source"
}
