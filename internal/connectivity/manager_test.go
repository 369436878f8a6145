package connectivity

import (
	"context"
	"testing"

	"github.com/tradecore/engine/internal/orderbook"
	"github.com/tradecore/engine/internal/position"
	"github.com/tradecore/engine/internal/refdata"
	"github.com/tradecore/engine/internal/refstore"
	"github.com/tradecore/engine/internal/risk"
	"github.com/tradecore/engine/internal/schema"
)

type recordingSink struct {
	confirmations []schema.Confirmation
}

func (r *recordingSink) OnConfirmation(c schema.Confirmation) {
	r.confirmations = append(r.confirmations, c)
}

func (r *recordingSink) last() schema.Confirmation {
	return r.confirmations[len(r.confirmations)-1]
}

// fakeAdapter records every order handed to it and returns a canned
// rejection reason (empty string = accept).
type fakeAdapter struct {
	name        string
	placeReject string
	cancelReject string
	placed      []*schema.Order
	canceled    []*schema.Order
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Place(o *schema.Order) string {
	f.placed = append(f.placed, o)
	return f.placeReject
}
func (f *fakeAdapter) Cancel(o *schema.Order) string {
	f.canceled = append(f.canceled, o)
	return f.cancelReject
}

func newTestJournal(t *testing.T, dir string) *orderbook.JournalWriter {
	t.Helper()
	w, err := orderbook.NewJournalWriter(orderbook.DefaultConfirmationJournalConfig(dir))
	if err != nil {
		t.Fatalf("NewJournalWriter: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		w.Close()
	})
	return w
}

type harness struct {
	book    *orderbook.Book
	sink    *recordingSink
	cache   *refdata.Cache
	mgr     *Manager
	adapter *fakeAdapter
}

func buildHarness(t *testing.T, userLimits, subLimits, brokerLimits string) *harness {
	t.Helper()
	s := refstore.NewMemoryStore()
	s.AddExchange(refstore.ExchangeRow{ID: 1, Name: "XTAI", TZName: "Asia/Taipei", UTCOffsetS: 8 * 3600})
	s.AddSecurity(refstore.SecurityRow{ID: 100, Symbol: "2330", ExchangeID: 1, Type: 1, Currency: "TWD", Multiplier: 1, LotSize: 1, ClosePrice: 500})
	s.AddUser(refstore.UserRow{ID: 1, Name: "alice", LimitsBlob: userLimits})
	s.AddSubAccount(refstore.SubAccountRow{ID: 10, LimitsBlob: subLimits})
	s.AddBrokerAccount(refstore.BrokerAccountRow{ID: 200, AdapterName: "sim", Handle: "SIM1", LimitsBlob: brokerLimits})
	s.AddUserSubAccount(refstore.UserSubAccountRow{UserID: 1, SubAccountID: 10})
	s.AddSubAccountBrokerAccount(refstore.SubAccountBrokerAccountRow{SubAccountID: 10, ExchangeID: 0, BrokerAccountID: 200})

	cache, err := refdata.Load(s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	positions := position.NewEngine(cache, nil)
	checker := risk.NewChecker(cache, positions)

	dir := t.TempDir()
	journal := newTestJournal(t, dir)
	sink := &recordingSink{}
	book := orderbook.NewBook(journal, sink, orderbook.ConfirmationSinkFunc(positions.OnConfirmation))

	mgr := NewManager(cache, book, checker)
	adapter := &fakeAdapter{name: "sim"}
	mgr.RegisterAdapter(adapter)

	return &harness{book: book, sink: sink, cache: cache, mgr: mgr, adapter: adapter}
}

func testOrder(qty schema.Quantity, price schema.Price, side schema.Side, typ schema.OrderType) *schema.Order {
	return &schema.Order{
		SubAccountID: 10, SecurityID: 100,
		Side: side, Type: typ, Qty: qty, Price: price,
	}
}

func TestPlaceAcceptsWithinLimitsAndBumpsThrottle(t *testing.T) {
	h := buildHarness(t, "order_qty=1000", "order_qty=1000", "order_qty=1000")
	ok := h.mgr.Place(1, testOrder(100, 500, schema.SideBuy, schema.OrderTypeLimit))
	if !ok {
		t.Fatalf("expected place to succeed")
	}
	if len(h.adapter.placed) != 1 {
		t.Fatalf("expected adapter.Place called once, got %d", len(h.adapter.placed))
	}
	sub, _ := h.cache.SubAccount(10)
	if sub.Throttle.Count(schema.NowMicros()/1_000_000) == 0 {
		t.Fatalf("expected sub-account throttle bumped on accepted place")
	}
}

func TestPlaceRejectsWhenUserNotPermissioned(t *testing.T) {
	h := buildHarness(t, "", "", "")
	ok := h.mgr.Place(999, testOrder(100, 500, schema.SideBuy, schema.OrderTypeLimit))
	if ok {
		t.Fatalf("expected place to be rejected for unpermissioned user")
	}
	if len(h.adapter.placed) != 0 {
		t.Fatalf("adapter should not be called")
	}
	last := h.sink.last()
	if last.ExecType != schema.StatusRiskRejected {
		t.Fatalf("expected RiskRejected, got %v", last.ExecType)
	}
}

func TestPlaceRejectsWithNoBrokerRoute(t *testing.T) {
	h := buildHarness(t, "", "", "")
	sub, _ := h.cache.SubAccount(10)
	delete(sub.BrokerAccounts, 0)

	ok := h.mgr.Place(1, testOrder(100, 500, schema.SideBuy, schema.OrderTypeLimit))
	if ok {
		t.Fatalf("expected place to fail with no broker route")
	}
	if h.sink.last().ExecType != schema.StatusRiskRejected {
		t.Fatalf("expected RiskRejected for missing broker route")
	}
}

func TestPlaceOTCBypassesAdapterAndFillsImmediately(t *testing.T) {
	h := buildHarness(t, "", "", "")
	ok := h.mgr.Place(1, testOrder(100, 777, schema.SideBuy, schema.OrderTypeOTC))
	if !ok {
		t.Fatalf("expected OTC place to succeed")
	}
	if len(h.adapter.placed) != 0 {
		t.Fatalf("OTC orders must not reach the adapter")
	}
	last := h.sink.last()
	if last.ExecType != schema.StatusFilled || last.ExecID[:4] != "OTC-" {
		t.Fatalf("expected synthetic OTC fill, got %+v", last)
	}
}

func TestPlaceSubstitutesMarketPriceFromSecurity(t *testing.T) {
	h := buildHarness(t, "", "", "")
	ok := h.mgr.Place(1, testOrder(10, 0, schema.SideBuy, schema.OrderTypeMarket))
	if !ok {
		t.Fatalf("expected market order to be accepted with substituted price")
	}
	if len(h.adapter.placed) != 1 || h.adapter.placed[0].Price != 500 {
		t.Fatalf("expected the adapter to see the security's current price, got %+v", h.adapter.placed)
	}
}

func TestPlaceRejectsRiskBreachWithReasonText(t *testing.T) {
	h := buildHarness(t, "order_qty=500", "", "")
	ok := h.mgr.Place(1, testOrder(600, 10, schema.SideBuy, schema.OrderTypeLimit))
	if ok {
		t.Fatalf("expected risk breach to reject the order")
	}
	if len(h.adapter.placed) != 0 {
		t.Fatalf("adapter must not be called once risk rejects")
	}
	last := h.sink.last()
	if last.ExecType != schema.StatusRiskRejected {
		t.Fatalf("expected RiskRejected, got %v", last.ExecType)
	}
	want := "order quantity 600 > 500"
	if !containsSubstring(last.Text, want) {
		t.Fatalf("expected reason text to contain %q, got %q", want, last.Text)
	}
}

func TestPlaceSynchronousAdapterRejectionMarksNewRejected(t *testing.T) {
	h := buildHarness(t, "", "", "")
	h.adapter.placeReject = "exchange down"

	ok := h.mgr.Place(1, testOrder(100, 500, schema.SideBuy, schema.OrderTypeLimit))
	if ok {
		t.Fatalf("expected synchronous adapter rejection to fail the place")
	}
	last := h.sink.last()
	if last.ExecType != schema.StatusRejected {
		t.Fatalf("expected Rejected after synchronous adapter reject, got %v", last.ExecType)
	}
}

func TestCancelOfTerminalOrderIsNoOp(t *testing.T) {
	h := buildHarness(t, "", "", "")
	ok := h.mgr.Cancel(1, 99999)
	if ok {
		t.Fatalf("cancel of a nonexistent/terminal order must return false")
	}
	if len(h.adapter.canceled) != 0 {
		t.Fatalf("adapter must not be called for a dead order")
	}
}

func TestCancelLiveOrderDispatchesToAdapter(t *testing.T) {
	h := buildHarness(t, "", "", "")
	h.mgr.Place(1, testOrder(100, 500, schema.SideBuy, schema.OrderTypeLimit))
	placedID := h.adapter.placed[0].ID

	ok := h.mgr.Cancel(1, placedID)
	if !ok {
		t.Fatalf("expected cancel to be accepted")
	}
	if len(h.adapter.canceled) != 1 {
		t.Fatalf("expected adapter.Cancel called once, got %d", len(h.adapter.canceled))
	}
	if h.adapter.canceled[0].OrigID != placedID {
		t.Fatalf("shadow cancel should reference the original order id")
	}
}

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
