package algo

import (
	"fmt"
	"sync"
	"time"

	"github.com/tradecore/engine/internal/refdata"
	"github.com/tradecore/engine/internal/schema"
)

// Aggression drives child-order pricing (spec §4.8).
type Aggression int

const (
	AggressionLow Aggression = iota
	AggressionMedium
	AggressionHigh
	AggressionHighest
)

func parseAggression(s string) (Aggression, bool) {
	switch s {
	case "Low":
		return AggressionLow, true
	case "Medium":
		return AggressionMedium, true
	case "High":
		return AggressionHigh, true
	case "Highest":
		return AggressionHighest, true
	default:
		return 0, false
	}
}

// TWAP is the reference strategy demonstrating the algo runtime
// contract (spec §4.8): a time-sliced schedule that works a fixed
// quantity between now and a deadline, pricing children by aggression
// and cancelling stale ones each tick.
type TWAP struct {
	cache *refdata.Cache

	mu            sync.Mutex
	sec           SecurityTuple
	priceCap      schema.Price
	hasPriceCap   bool
	validSeconds  int64
	minSize       schema.Quantity
	maxPov        float64
	aggression    Aggression

	inst              *Instrument
	beginTime         time.Time
	endTime           time.Time
	initialVolume     schema.Quantity
	haveInitialVolume bool
	stopped           bool
}

// NewTWAP builds a TWAP instance bound to the reference cache it needs
// for lot size, tick size, and trade-period lookups.
func NewTWAP(cache *refdata.Cache) *TWAP {
	return &TWAP{cache: cache}
}

func (t *TWAP) GetParamDefs() []ParamDef {
	return []ParamDef{
		{Name: "security", Kind: ParamSecurityTuple, Required: true},
		{Name: "price", Kind: ParamFloat, Required: false},
		{Name: "valid_seconds", Kind: ParamInt, Required: true, Min: 60},
		{Name: "min_size", Kind: ParamInt, Required: false},
		{Name: "max_pov", Kind: ParamFloat, Required: false, Min: 0, Max: 1},
		{Name: "aggression", Kind: ParamString, Required: true},
	}
}

func (t *TWAP) OnStart(ctx *Context, params map[string]ParamValue) string {
	secParam, ok := params["security"]
	if !ok || secParam.Kind != ParamSecurityTuple {
		return "twap: missing required security parameter"
	}
	validParam, ok := params["valid_seconds"]
	if !ok || validParam.Int < 60 {
		return "twap: valid_seconds must be >= 60"
	}
	aggParam, ok := params["aggression"]
	if !ok {
		return "twap: missing required aggression parameter"
	}
	aggression, ok := parseAggression(aggParam.Str)
	if !ok {
		return fmt.Sprintf("twap: unknown aggression %q", aggParam.Str)
	}

	sec, ok := t.cache.Security(secParam.Security.SecurityID)
	if !ok {
		return "twap: unknown security"
	}
	minSize := schema.Quantity(0)
	if p, ok := params["min_size"]; ok {
		minSize = schema.Quantity(p.Int)
	}
	if minSize <= 0 && sec.LotSize <= 0 {
		return "twap: min_size is required for securities with no lot size"
	}
	// An explicit min_size of 0 (or one left unset) means "no minimum"
	// and is never snapped to a lot; only a positive min_size gets
	// rounded to its nearest lot multiple.
	if minSize > 0 && sec.LotSize > 0 {
		minSize = roundNearestLot(minSize, schema.Quantity(sec.LotSize))
	}

	t.mu.Lock()
	t.sec = secParam.Security
	t.validSeconds = validParam.Int
	t.minSize = minSize
	t.aggression = aggression
	if p, ok := params["price"]; ok && p.Float > 0 {
		t.hasPriceCap = true
		t.priceCap = schema.Price(p.Float)
	}
	if p, ok := params["max_pov"]; ok {
		t.maxPov = p.Float
	}
	t.beginTime = ctx.Now()
	t.endTime = t.beginTime.Add(time.Duration(t.validSeconds) * time.Second)
	t.mu.Unlock()

	t.inst = ctx.Subscribe(secParam.Security.Source, secParam.Security.SecurityID)
	ctx.SetTimeout(time.Second, t.onTimer)
	return ""
}

func (t *TWAP) OnStop(ctx *Context) {}

func (t *TWAP) OnMarketTrade(ctx *Context, inst *Instrument, cur, prev schema.MarketData) {
	t.mu.Lock()
	if !t.haveInitialVolume {
		t.initialVolume = cur.Trade.Volume
		t.haveInitialVolume = true
	}
	t.mu.Unlock()
}

func (t *TWAP) OnMarketQuote(ctx *Context, inst *Instrument, cur, prev schema.MarketData) {}

func (t *TWAP) OnConfirmation(ctx *Context, c schema.Confirmation) {
	t.mu.Lock()
	target := t.sec.Qty
	t.mu.Unlock()
	if t.inst.TotalQty() >= target {
		go ctx.mgr.Stop(c.AlgoID, "")
	}
}

// OnTimer implements the Algo interface by delegating to onTimer.
func (t *TWAP) OnTimer(ctx *Context) {
	t.onTimer(ctx)
}

// onTimer implements spec §4.8's ten numbered tick steps.
func (t *TWAP) onTimer(ctx *Context) {
	now := ctx.Now()

	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return
	}

	if now.After(t.endTime) {
		go ctx.mgr.Stop(ctx.st.id, "")
		return
	}
	ctx.SetTimeout(time.Second, t.onTimer)

	sec, ok := t.cache.Security(t.sec.SecurityID)
	if !ok || !sec.InTradePeriod() {
		return
	}

	md := ctx.Snapshot(t.inst)
	quote := md.TopOfBook()
	if quote.BidPrice <= 0 || quote.AskPrice <= 0 {
		return
	}
	isBuy := t.sec.Side == schema.SideBuy

	live := t.inst.LiveOrders()
	if len(live) > 0 {
		for _, id := range live {
			o := ctx.Order(id)
			if o == nil {
				continue
			}
			if isBuy && o.Price < quote.BidPrice {
				ctx.Cancel(id)
				return
			}
			if !isBuy && o.Price > quote.AskPrice {
				ctx.Cancel(id)
				return
			}
		}
		return
	}

	t.mu.Lock()
	maxPov, haveVol, initVol := t.maxPov, t.haveInitialVolume, t.initialVolume
	t.mu.Unlock()
	if haveVol && maxPov > 0 {
		currentVolume := md.Trade.Volume
		allowedByPov := schema.Quantity(maxPov * float64(currentVolume-initVol))
		if t.inst.TotalQty() > allowedByPov {
			return
		}
	}

	elapsed := now.Sub(t.beginTime).Seconds() + 1
	total := t.endTime.Sub(t.beginTime).Seconds()
	r := elapsed / total
	if r > 1 {
		r = 1
	}
	expect := float64(t.sec.Qty)*r - float64(t.inst.TotalExposure())
	if expect <= 0 {
		return
	}

	lot := schema.Quantity(sec.LotSize)
	childQty := schema.Quantity(expect)
	if lot > 0 {
		childQty = roundUpToLot(childQty, lot)
	}
	if childQty < t.minSize {
		childQty = t.minSize
	}
	allowedTotalLeaves := t.sec.Qty - t.inst.TotalExposure()
	if lot > 0 && !oddLotAllowed(sec) {
		// Under odd_lot_allowed the remaining size can be worked down to
		// the last share; otherwise the cap itself must stay a whole
		// number of lots, or the last child could be forced under a lot.
		allowedTotalLeaves = floorToLot(allowedTotalLeaves, lot)
	}
	if childQty > allowedTotalLeaves {
		childQty = allowedTotalLeaves
	}
	if childQty <= 0 {
		return
	}

	price := t.choosePrice(quote, isBuy, sec.TickSize(md.Trade.Close))
	if price <= 0 {
		return
	}
	if t.hasPriceCap {
		if isBuy && price > t.priceCap {
			return
		}
		if !isBuy && price < t.priceCap {
			return
		}
	}

	orderType := schema.OrderTypeLimit
	if t.aggression == AggressionHighest {
		// Highest aggression means "cross the book now"; choosePrice
		// already returns the far touch, but only a market order
		// guarantees the fill instead of resting at that price.
		orderType = schema.OrderTypeMarket
	}
	ctx.Place(&schema.Order{
		SubAccountID: t.sec.SubAccountID,
		SecurityID:   t.sec.SecurityID,
		Side:         t.sec.Side,
		Type:         orderType,
		Qty:          childQty,
		Price:        price,
	})
}

// choosePrice implements spec §4.8 step 9's aggression ladder, falling
// through to the next level if the chosen one is unavailable.
func (t *TWAP) choosePrice(q schema.Quote, isBuy bool, tick schema.Price) schema.Price {
	passive, aggressive := q.BidPrice, q.AskPrice
	if !isBuy {
		passive, aggressive = q.AskPrice, q.BidPrice
	}
	mid := roundToTick((q.BidPrice+q.AskPrice)/2, tick, isBuy)

	switch t.aggression {
	case AggressionHighest:
		return aggressive // market: cross fully
	case AggressionHigh:
		if aggressive > 0 {
			return aggressive
		}
		return mid
	case AggressionMedium:
		if mid > 0 {
			return mid
		}
		return passive
	default: // AggressionLow
		if passive > 0 {
			return passive
		}
		return mid
	}
}

func roundToTick(px, tick schema.Price, roundUp bool) schema.Price {
	if tick <= 0 {
		return px
	}
	if roundUp {
		return ((px + tick - 1) / tick) * tick
	}
	return (px / tick) * tick
}

func roundUpToLot(qty, lot schema.Quantity) schema.Quantity {
	if lot <= 0 {
		return qty
	}
	return ((qty + lot - 1) / lot) * lot
}

func roundNearestLot(qty, lot schema.Quantity) schema.Quantity {
	if lot <= 0 {
		return qty
	}
	return ((qty + lot/2) / lot) * lot
}

func floorToLot(qty, lot schema.Quantity) schema.Quantity {
	if lot <= 0 {
		return qty
	}
	return (qty / lot) * lot
}

// oddLotAllowed reports whether sec's exchange permits child orders that
// aren't a whole multiple of the lot size. A security with no exchange
// reference (bad refdata) is treated conservatively as lot-restricted.
func oddLotAllowed(sec *refdata.Security) bool {
	ex := sec.Exchange()
	return ex != nil && ex.OddLot == refdata.OddLotAllow
}
