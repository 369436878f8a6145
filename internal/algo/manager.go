package algo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/yanun0323/logs"

	"github.com/tradecore/engine/internal/connectivity"
	"github.com/tradecore/engine/internal/marketdata"
	"github.com/tradecore/engine/internal/orderbook"
	"github.com/tradecore/engine/internal/schema"
)

type instKey struct {
	source     uint32
	securityID uint32
}

// instrumentEntry is a shard's view of one (source, security) key: the
// last snapshot seen (to detect trade/quote changes) and every
// subscribed instrument across every algo pinned to this shard.
type instrumentEntry struct {
	prev        schema.MarketData
	subscribers []*Instrument
}

type shardState struct {
	id      int
	mgr     *Manager
	strand  *strand
	mu      sync.Mutex
	instrs  map[instKey]*instrumentEntry
	dirty   map[instKey]struct{}
	pending bool
}

// algoState is the runtime record for one spawned algo instance.
type algoState struct {
	id     uint32
	userID uint32
	name   string
	algo   Algo
	shard  *shardState
	active atomic.Bool

	mu          sync.Mutex
	instruments map[uint32]*Instrument // securityID -> instrument
	activeOrders map[uint64]struct{}
}

// Manager is the algo execution runtime (spec §4.7): N shards, a shared
// timer service, and the durable algo-event journal. It implements
// marketdata.WakeupSink and orderbook.ConfirmationSink so the hub and
// the order book can drive it directly.
type Manager struct {
	ctx          context.Context
	shards       []*shardState
	hub          *marketdata.Hub
	book         *orderbook.Book
	connectivity *connectivity.Manager
	journal      *EventJournal
	timers       *timerService

	nextID atomic.Uint32

	mu          sync.RWMutex
	algos       map[uint32]*algoState
	algoOfToken map[string]uint32

	stratMu    sync.RWMutex
	strategies map[string]Factory
}

// Factory builds a fresh, unstarted Algo instance. Client-spawned algos
// are looked up by name and instantiated per spawn, since strategy
// state (TWAP's schedule, fill totals, ...) is per-instance.
type Factory func() Algo

// RegisterStrategy makes a strategy spawnable by name from the client
// port's `algo` action.
func (m *Manager) RegisterStrategy(name string, f Factory) {
	m.stratMu.Lock()
	defer m.stratMu.Unlock()
	if m.strategies == nil {
		m.strategies = make(map[string]Factory)
	}
	m.strategies[name] = f
}

// NewStrategy instantiates a fresh Algo for the named strategy.
func (m *Manager) NewStrategy(name string) (Algo, bool) {
	m.stratMu.RLock()
	f, ok := m.strategies[name]
	m.stratMu.RUnlock()
	if !ok {
		return nil, false
	}
	return f(), true
}

// NewManager builds a Manager with n shards.
func NewManager(ctx context.Context, n int, hub *marketdata.Hub, book *orderbook.Book, conn *connectivity.Manager, journal *EventJournal) *Manager {
	if n <= 0 {
		n = 1
	}
	m := &Manager{
		ctx:          ctx,
		hub:          hub,
		book:         book,
		connectivity: conn,
		journal:      journal,
		timers:       newTimerService(),
		algos:        make(map[uint32]*algoState),
		algoOfToken:  make(map[string]uint32),
	}
	m.shards = make([]*shardState, n)
	for i := 0; i < n; i++ {
		s := &shardState{id: i, mgr: m, strand: newStrand(0), instrs: make(map[instKey]*instrumentEntry), dirty: make(map[instKey]struct{})}
		m.shards[i] = s
		go s.strand.run(ctx)
	}
	return m
}

func (m *Manager) shardFor(algoID uint32) *shardState {
	return m.shards[int(algoID)%len(m.shards)]
}

// SetHub wires the market-data hub after construction, breaking the
// hub↔manager construction cycle (the hub needs the manager as its
// WakeupSink; the manager only needs the hub once callbacks fire).
func (m *Manager) SetHub(hub *marketdata.Hub) {
	m.hub = hub
}

// Spawn implements spec §4.7 "Spawn": allocate an id, register the
// algo, journal `new`, then post OnStart onto its strand.
func (m *Manager) Spawn(userID uint32, name string, a Algo, params map[string]ParamValue, token string) (uint32, error) {
	m.mu.Lock()
	if token != "" {
		if _, exists := m.algoOfToken[token]; exists {
			m.mu.Unlock()
			return 0, fmt.Errorf("algo: duplicate token %q", token)
		}
	}
	id := m.nextID.Add(1)
	st := &algoState{id: id, userID: userID, name: name, algo: a, instruments: make(map[uint32]*Instrument), activeOrders: make(map[uint64]struct{})}
	st.active.Store(true)
	st.shard = m.shardFor(id)
	m.algos[id] = st
	if token != "" {
		m.algoOfToken[token] = id
	}
	m.mu.Unlock()

	if m.journal != nil {
		if err := m.journal.Append(userID, id, name, StatusNew, paramsToBody(params), schema.NowMicros()); err != nil {
			logs.Errorf("algo: journal new failed for algo %d: %+v", id, err)
		}
	}

	st.shard.strand.post(func() {
		ctx := m.newContext(st)
		if errStr := a.OnStart(ctx, params); errStr != "" {
			m.Stop(id, errStr)
		}
	})
	return id, nil
}

// Stop implements spec §4.7 "Stop": idempotent, cancels every live
// order on every owned instrument, journals terminated/failed, then
// calls OnStop.
func (m *Manager) Stop(id uint32, failReason string) bool {
	m.mu.RLock()
	st, ok := m.algos[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	if !st.active.CompareAndSwap(true, false) {
		return false
	}

	st.mu.Lock()
	orders := make([]uint64, 0, len(st.activeOrders))
	for id := range st.activeOrders {
		orders = append(orders, id)
	}
	st.mu.Unlock()
	for _, orderID := range orders {
		m.connectivity.Cancel(st.userID, orderID)
	}

	status, body := StatusTerminated, ""
	if failReason != "" {
		status, body = StatusFailed, failReason
	}
	if m.journal != nil {
		if err := m.journal.Append(st.userID, id, st.name, status, body, schema.NowMicros()); err != nil {
			logs.Errorf("algo: journal stop failed for algo %d: %+v", id, err)
		}
	}

	st.shard.strand.post(func() {
		st.algo.OnStop(m.newContext(st))
	})
	return true
}

// IsActive reports whether the algo is still running.
func (m *Manager) IsActive(id uint32) bool {
	m.mu.RLock()
	st, ok := m.algos[id]
	m.mu.RUnlock()
	return ok && st.active.Load()
}

// Wakeup implements marketdata.WakeupSink (spec §4.7 "Wake-up path"):
// every shard with at least one subscriber on the key gets it inserted
// into its dirty set; a shard idle→busy transition posts its runner.
func (m *Manager) Wakeup(source, securityID uint32) {
	key := instKey{source: source, securityID: securityID}
	for _, s := range m.shards {
		s.mu.Lock()
		entry, ok := s.instrs[key]
		if !ok || len(entry.subscribers) == 0 {
			s.mu.Unlock()
			continue
		}
		s.dirty[key] = struct{}{}
		shouldPost := !s.pending
		s.pending = true
		s.mu.Unlock()
		if shouldPost {
			s.strand.post(s.drainDirty)
		}
	}
}

// drainDirty runs on the shard's strand (spec §4.7 "Runner body").
func (s *shardState) drainDirty() {
	for {
		s.mu.Lock()
		var key instKey
		found := false
		for k := range s.dirty {
			key = k
			found = true
			break
		}
		if !found {
			s.pending = false
			s.mu.Unlock()
			return
		}
		delete(s.dirty, key)
		entry := s.instrs[key]
		s.mu.Unlock()
		if entry == nil {
			continue
		}

		mdNew := s.mgr.hub.Get(key.source, key.securityID)
		mdPrev := entry.prev
		tradeUpdate := !mdPrev.TradeEqual(mdNew)
		quoteUpdate := !mdPrev.QuoteEqual(mdNew)

		s.mu.Lock()
		live := make([]*Instrument, 0, len(entry.subscribers))
		for _, inst := range entry.subscribers {
			if s.mgr.IsActive(inst.algoID) {
				live = append(live, inst)
			}
		}
		entry.subscribers = live
		entry.prev = mdNew
		s.mu.Unlock()

		for _, inst := range live {
			st := s.mgr.algoLocked(inst.algoID)
			if st == nil {
				continue
			}
			ctx := s.mgr.newContext(st)
			if tradeUpdate {
				st.algo.OnMarketTrade(ctx, inst, mdNew, mdPrev)
			}
			if quoteUpdate {
				st.algo.OnMarketQuote(ctx, inst, mdNew, mdPrev)
			}
		}
	}
}

func (m *Manager) algoLocked(id uint32) *algoState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.algos[id]
}

// OnConfirmation implements orderbook.ConfirmationSink (spec §4.7
// "Execution callbacks"): applies fill/outstanding accounting under a
// global step, then re-posts onto the owning algo's strand.
func (m *Manager) OnConfirmation(c schema.Confirmation) {
	if c.AlgoID == 0 {
		return
	}
	st := m.algoLocked(c.AlgoID)
	if st == nil {
		return
	}

	st.mu.Lock()
	inst := st.instruments[c.SecurityID]
	if !c.ExecType.IsLive() {
		delete(st.activeOrders, c.OrderID)
	}
	st.mu.Unlock()
	if inst != nil {
		inst.applyExecution(c)
	}

	st.shard.strand.post(func() {
		st.algo.OnConfirmation(m.newContext(st), c)
	})
}

func paramsToBody(params map[string]ParamValue) string {
	body := ""
	for k, v := range params {
		switch v.Kind {
		case ParamBool:
			body += fmt.Sprintf("%s=%v ", k, v.Bool)
		case ParamInt:
			body += fmt.Sprintf("%s=%d ", k, v.Int)
		case ParamFloat:
			body += fmt.Sprintf("%s=%g ", k, v.Float)
		case ParamString:
			body += fmt.Sprintf("%s=%s ", k, v.Str)
		default:
			body += fmt.Sprintf("%s=<complex> ", k)
		}
	}
	return body
}
