// Package simadapter provides a simulated execution and market-data
// adapter: it accepts every order immediately (with an artificial
// working delay before the fill), and drives a bounded random walk on
// every subscribed security's top of book. It exists so the process
// can boot and run its full order/algo/market-data path without a
// real exchange connection, and so cmd/tools/chaos has a live target
// to inject faults against.
package simadapter

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"github.com/tradecore/engine/internal/marketdata"
	"github.com/tradecore/engine/internal/refdata"
	"github.com/tradecore/engine/internal/schema"
)

// FillCallback receives the outcome of a simulated order in the shape
// the connectivity manager's adapter callbacks expect.
type FillCallback interface {
	HandleFill(id uint64, qty schema.Quantity, price schema.Price, execID string, tm int64, isPartial bool, transType schema.ExecTransType)
}

// Adapter simulates one venue connection, implementing both
// connectivity.ExecutionAdapter and marketdata.Adapter.
type Adapter struct {
	name      string
	source    uint32
	exchanges []uint32
	cache     *refdata.Cache
	hub       *marketdata.Hub
	sink      FillCallback
	rng       *rand.Rand

	mu   sync.Mutex
	subs map[uint32]struct{}
}

// New builds a simulated adapter for the given name/source tag,
// covering the listed exchanges.
func New(name string, source uint32, exchanges []uint32, cache *refdata.Cache, hub *marketdata.Hub, sink FillCallback) *Adapter {
	return &Adapter{
		name:      name,
		source:    source,
		exchanges: exchanges,
		cache:     cache,
		hub:       hub,
		sink:      sink,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		subs:      make(map[uint32]struct{}),
	}
}

func (a *Adapter) Name() string        { return a.name }
func (a *Adapter) Source() uint32      { return a.source }
func (a *Adapter) Exchanges() []uint32 { return a.exchanges }

// Subscribe starts the security's random-walk tick generator the first
// time it is subscribed; later subscribes are no-ops.
func (a *Adapter) Subscribe(securityID uint32) error {
	a.mu.Lock()
	if _, ok := a.subs[securityID]; ok {
		a.mu.Unlock()
		return nil
	}
	a.subs[securityID] = struct{}{}
	a.mu.Unlock()

	go a.walk(securityID)
	return nil
}

func (a *Adapter) walk(securityID uint32) {
	sec, ok := a.cache.Security(securityID)
	if !ok {
		return
	}
	price := sec.ClosePrice
	if price <= 0 {
		price = 100
	}
	tick := sec.TickSize(price)
	if tick <= 0 {
		tick = 1
	}

	t := time.NewTicker(500 * time.Millisecond)
	defer t.Stop()
	for range t.C {
		step := schema.Price(a.rng.Intn(3)-1) * tick
		price += step
		if price <= 0 {
			price = tick
		}
		a.hub.UpdateQuote(a.source, securityID, schema.NowMicros(), 0, schema.Quote{
			BidPrice: price - tick,
			BidSize:  100,
			AskPrice: price + tick,
			AskSize:  100,
		})
		a.hub.UpdateTrade(a.source, securityID, schema.NowMicros(), price, 100)
	}
}

// Place always accepts, replying with a full fill after a short
// artificial delay to exercise the async execution callback path.
func (a *Adapter) Place(o *schema.Order) string {
	execID := a.name + "-" + uuid.NewString()

	go func() {
		time.Sleep(50 * time.Millisecond)
		if a.sink != nil {
			a.sink.HandleFill(o.ID, o.Qty, o.Price, execID, schema.NowMicros(), false, schema.ExecTransNew)
		}
	}()
	return ""
}

// Cancel always succeeds synchronously; the connectivity manager
// already applied the shadow-cancel state transition.
func (a *Adapter) Cancel(o *schema.Order) string {
	logs.Debugf("simadapter: cancel %d", o.ID)
	return ""
}
