package algo

import (
	"testing"
	"time"

	"github.com/tradecore/engine/internal/schema"
)

// waitStrand blocks until every callback already posted to the algo's
// strand (including the OnStart that Spawn posts) has run.
func waitStrand(h *testHarness, id uint32) {
	done := make(chan struct{})
	h.mgr.algoLocked(id).shard.strand.post(func() { close(done) })
	<-done
}

func TestTWAPRejectsShortValidSeconds(t *testing.T) {
	h := buildTestHarness(t, 1)
	twap := NewTWAP(h.cache)
	id, err := h.mgr.Spawn(1, "twap", twap, map[string]ParamValue{
		"security":      {Kind: ParamSecurityTuple, Security: SecurityTuple{SecurityID: 100, SubAccountID: 10, Side: schema.SideBuy, Qty: 1000}},
		"valid_seconds": {Kind: ParamInt, Int: 30},
		"aggression":    {Kind: ParamString, Str: "Low"},
	}, "")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitStrand(h, id)
	if h.mgr.IsActive(id) {
		t.Fatalf("expected algo %d to auto-stop on invalid valid_seconds", id)
	}
}

func TestTWAPRejectsUnknownAggression(t *testing.T) {
	h := buildTestHarness(t, 1)
	twap := NewTWAP(h.cache)
	id, err := h.mgr.Spawn(1, "twap", twap, map[string]ParamValue{
		"security":      {Kind: ParamSecurityTuple, Security: SecurityTuple{SecurityID: 100, SubAccountID: 10, Side: schema.SideBuy, Qty: 1000}},
		"valid_seconds": {Kind: ParamInt, Int: 60},
		"aggression":    {Kind: ParamString, Str: "Bogus"},
	}, "")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitStrand(h, id)
	if h.mgr.IsActive(id) {
		t.Fatalf("expected algo %d to auto-stop on unknown aggression", id)
	}
}

func TestTWAPSubscribesAndArmsTimerOnStart(t *testing.T) {
	h := buildTestHarness(t, 1)
	twap := NewTWAP(h.cache)
	id, err := h.mgr.Spawn(1, "twap", twap, map[string]ParamValue{
		"security":      {Kind: ParamSecurityTuple, Security: SecurityTuple{SecurityID: 100, SubAccountID: 10, Side: schema.SideBuy, Qty: 1000}},
		"valid_seconds": {Kind: ParamInt, Int: 60},
		"aggression":    {Kind: ParamString, Str: "Low"},
	}, "")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitStrand(h, id)
	if !h.mgr.IsActive(id) {
		t.Fatalf("expected algo %d to remain active with valid params", id)
	}
	if twap.inst == nil {
		t.Fatalf("expected OnStart to subscribe an instrument")
	}
}

func TestChoosePriceAggressionLadder(t *testing.T) {
	twap := &TWAP{}
	q := schema.Quote{BidPrice: 100, AskPrice: 102}

	twap.aggression = AggressionHighest
	if got := twap.choosePrice(q, true, 1); got != q.AskPrice {
		t.Fatalf("Highest buy: got %d want ask %d", got, q.AskPrice)
	}
	if got := twap.choosePrice(q, false, 1); got != q.BidPrice {
		t.Fatalf("Highest sell: got %d want bid %d", got, q.BidPrice)
	}

	twap.aggression = AggressionHigh
	if got := twap.choosePrice(q, true, 1); got != q.AskPrice {
		t.Fatalf("High buy: got %d want ask %d", got, q.AskPrice)
	}

	twap.aggression = AggressionLow
	if got := twap.choosePrice(q, true, 1); got != q.BidPrice {
		t.Fatalf("Low buy: got %d want bid (passive) %d", got, q.BidPrice)
	}
	if got := twap.choosePrice(q, false, 1); got != q.AskPrice {
		t.Fatalf("Low sell: got %d want ask (passive) %d", got, q.AskPrice)
	}

	twap.aggression = AggressionMedium
	mid := roundToTick((q.BidPrice+q.AskPrice)/2, 1, true)
	if got := twap.choosePrice(q, true, 1); got != mid {
		t.Fatalf("Medium buy: got %d want mid %d", got, mid)
	}
}

func TestRoundUpToLotRoundsUpToNextMultiple(t *testing.T) {
	if got := roundUpToLot(150, 100); got != 200 {
		t.Fatalf("roundUpToLot(150,100) = %d, want 200", got)
	}
	if got := roundUpToLot(200, 100); got != 200 {
		t.Fatalf("roundUpToLot(200,100) = %d, want 200", got)
	}
	if got := roundUpToLot(50, 0); got != 50 {
		t.Fatalf("roundUpToLot with zero lot should pass through, got %d", got)
	}
}

func TestRoundNearestLotSnapsToClosestMultiple(t *testing.T) {
	if got := roundNearestLot(149, 100); got != 100 {
		t.Fatalf("roundNearestLot(149,100) = %d, want 100", got)
	}
	if got := roundNearestLot(150, 100); got != 200 {
		t.Fatalf("roundNearestLot(150,100) = %d, want 200", got)
	}
	if got := roundNearestLot(50, 0); got != 50 {
		t.Fatalf("roundNearestLot with zero lot should pass through, got %d", got)
	}
}

func TestFloorToLotTruncatesDownward(t *testing.T) {
	if got := floorToLot(250, 100); got != 200 {
		t.Fatalf("floorToLot(250,100) = %d, want 200", got)
	}
	if got := floorToLot(99, 100); got != 0 {
		t.Fatalf("floorToLot(99,100) = %d, want 0", got)
	}
	if got := floorToLot(50, 0); got != 50 {
		t.Fatalf("floorToLot with zero lot should pass through, got %d", got)
	}
}

func TestOnStartLeavesExplicitZeroMinSizeUntouched(t *testing.T) {
	h := buildTestHarness(t, 1)
	twap := NewTWAP(h.cache)
	id, err := h.mgr.Spawn(1, "twap", twap, map[string]ParamValue{
		"security":      {Kind: ParamSecurityTuple, Security: SecurityTuple{SecurityID: 100, SubAccountID: 10, Side: schema.SideBuy, Qty: 1000}},
		"valid_seconds": {Kind: ParamInt, Int: 60},
		"min_size":      {Kind: ParamInt, Int: 0},
		"aggression":    {Kind: ParamString, Str: "Low"},
	}, "")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitStrand(h, id)
	if !h.mgr.IsActive(id) {
		t.Fatalf("expected algo to remain active with explicit min_size=0")
	}
	if twap.minSize != 0 {
		t.Fatalf("expected min_size=0 to stay untouched, got %d", twap.minSize)
	}
}

func TestOnStartRoundsPositiveMinSizeToNearestLot(t *testing.T) {
	h := buildTestHarness(t, 1)
	twap := NewTWAP(h.cache)
	id, err := h.mgr.Spawn(1, "twap", twap, map[string]ParamValue{
		"security":      {Kind: ParamSecurityTuple, Security: SecurityTuple{SecurityID: 100, SubAccountID: 10, Side: schema.SideBuy, Qty: 1000}},
		"valid_seconds": {Kind: ParamInt, Int: 60},
		"min_size":      {Kind: ParamInt, Int: 149}, // security 100 has LotSize 100
		"aggression":    {Kind: ParamString, Str: "Low"},
	}, "")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitStrand(h, id)
	if twap.minSize != 100 {
		t.Fatalf("expected min_size 149 to round to nearest lot 100, got %d", twap.minSize)
	}
}

func TestOnTimerPlacesMarketOrderForHighestAggression(t *testing.T) {
	h := buildTestHarness(t, 1)
	twap := NewTWAP(h.cache)
	id, err := h.mgr.Spawn(1, "twap", twap, map[string]ParamValue{
		"security":      {Kind: ParamSecurityTuple, Security: SecurityTuple{SecurityID: 100, SubAccountID: 10, Side: schema.SideBuy, Qty: 1000}},
		"valid_seconds": {Kind: ParamInt, Int: 60},
		"aggression":    {Kind: ParamString, Str: "Highest"},
	}, "")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	h.hub.UpdateQuote(0, 100, schema.NowMicros(), 0, schema.Quote{BidPrice: 500, BidSize: 100, AskPrice: 502, AskSize: 100})
	time.Sleep(1200 * time.Millisecond)
	ctx := h.mgr.newContext(h.mgr.algoLocked(id))
	twap.onTimer(ctx)

	live := twap.inst.LiveOrders()
	if len(live) == 0 {
		t.Fatalf("expected onTimer to place a child order")
	}
	o := ctx.Order(live[0])
	if o == nil || o.Type != schema.OrderTypeMarket {
		t.Fatalf("expected Highest aggression to place a market order, got %+v", o)
	}
}

func TestOnTimerPlacesLimitOrderForNonHighestAggression(t *testing.T) {
	h := buildTestHarness(t, 1)
	twap := NewTWAP(h.cache)
	id, err := h.mgr.Spawn(1, "twap", twap, map[string]ParamValue{
		"security":      {Kind: ParamSecurityTuple, Security: SecurityTuple{SecurityID: 100, SubAccountID: 10, Side: schema.SideBuy, Qty: 1000}},
		"valid_seconds": {Kind: ParamInt, Int: 60},
		"aggression":    {Kind: ParamString, Str: "Low"},
	}, "")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	h.hub.UpdateQuote(0, 100, schema.NowMicros(), 0, schema.Quote{BidPrice: 500, BidSize: 100, AskPrice: 502, AskSize: 100})
	time.Sleep(1200 * time.Millisecond)
	ctx := h.mgr.newContext(h.mgr.algoLocked(id))
	twap.onTimer(ctx)

	live := twap.inst.LiveOrders()
	if len(live) == 0 {
		t.Fatalf("expected onTimer to place a child order")
	}
	o := ctx.Order(live[0])
	if o == nil || o.Type != schema.OrderTypeLimit {
		t.Fatalf("expected Low aggression to place a limit order, got %+v", o)
	}
}

func TestOddLotAllowedDefaultsFalseForRejectPolicy(t *testing.T) {
	h := buildTestHarness(t, 1)
	sec, ok := h.cache.Security(100)
	if !ok {
		t.Fatalf("expected security 100 to be loaded")
	}
	if oddLotAllowed(sec) {
		t.Fatalf("expected odd lots to be disallowed by default (OddLotReject)")
	}
}

func TestTWAPPlacesChildOnFirstTick(t *testing.T) {
	h := buildTestHarness(t, 1)
	twap := NewTWAP(h.cache)
	id, err := h.mgr.Spawn(1, "twap", twap, map[string]ParamValue{
		"security":      {Kind: ParamSecurityTuple, Security: SecurityTuple{SecurityID: 100, SubAccountID: 10, Side: schema.SideBuy, Qty: 1000}},
		"valid_seconds": {Kind: ParamInt, Int: 60},
		"aggression":    {Kind: ParamString, Str: "Low"},
	}, "")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !h.mgr.IsActive(id) {
		t.Fatalf("expected algo to be active")
	}

	h.hub.UpdateQuote(0, 100, schema.NowMicros(), 0, schema.Quote{BidPrice: 500, BidSize: 100, AskPrice: 502, AskSize: 100})

	time.Sleep(1200 * time.Millisecond)
	twap.onTimer(h.mgr.newContext(h.mgr.algoLocked(id)))

	if len(twap.inst.LiveOrders()) == 0 && twap.inst.TotalExposure() == 0 {
		t.Fatalf("expected onTimer to place at least one child order")
	}
}
