package position

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/tradecore/engine/internal/refdata"
	"github.com/tradecore/engine/internal/refstore"
	"github.com/tradecore/engine/internal/schema"
)

func buildTestCache(t *testing.T) *refdata.Cache {
	t.Helper()
	s := refstore.NewMemoryStore()
	s.AddExchange(refstore.ExchangeRow{ID: 1, Name: "XTAI", TZName: "Asia/Taipei", UTCOffsetS: 8 * 3600})
	s.AddSecurity(refstore.SecurityRow{ID: 100, Symbol: "2330", ExchangeID: 1, Type: 1, Currency: "TWD", Multiplier: 1, LotSize: 1000, ClosePrice: 1000})
	c, err := refdata.Load(s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return c
}

func confirmation(execType schema.OrderStatus, transType schema.ExecTransType, side schema.Side, qty, lastQty schema.Quantity, price schema.Price, leaves schema.Quantity) schema.Confirmation {
	return schema.Confirmation{
		OrderID:       1,
		ExecType:      execType,
		ExecTransType: transType,
		LastShares:    lastQty,
		LastPrice:     price,
		SubAccountID:  10,
		BrokerAccount: 200,
		UserID:        1,
		SecurityID:    100,
		Side:          side,
		Qty:           qty,
		Price:         price,
		LeavesQty:     leaves,
	}
}

func TestOnConfirmationUnconfirmedNewRecordsOutstanding(t *testing.T) {
	e := NewEngine(buildTestCache(t), nil)
	e.OnConfirmation(confirmation(schema.StatusUnconfirmedNew, schema.ExecTransNew, schema.SideBuy, 100, 0, 1000, 100))

	snap := e.SubAccountPosition(10, 100).Snapshot()
	if snap.OutstandingBuy != 100 {
		t.Fatalf("sub-account outstanding: got %d want 100", snap.OutstandingBuy)
	}
	if e.UserPosition(1, 100).Snapshot().OutstandingBuy != 100 {
		t.Fatalf("user outstanding not updated")
	}
	if e.BrokerAccountPosition(200, 100).Snapshot().OutstandingBuy != 100 {
		t.Fatalf("broker account outstanding not updated")
	}
}

func TestOnConfirmationFillMovesOutstandingToFilled(t *testing.T) {
	e := NewEngine(buildTestCache(t), nil)
	e.OnConfirmation(confirmation(schema.StatusUnconfirmedNew, schema.ExecTransNew, schema.SideBuy, 100, 0, 1000, 100))
	e.OnConfirmation(confirmation(schema.StatusFilled, schema.ExecTransNew, schema.SideBuy, 100, 100, 1000, 0))

	snap := e.SubAccountPosition(10, 100).Snapshot()
	if snap.OutstandingBuy != 0 {
		t.Fatalf("outstanding should clear on fill: %d", snap.OutstandingBuy)
	}
	if snap.Qty != 100 || snap.AvgPrice != 1000 {
		t.Fatalf("position after fill: %+v", snap)
	}
}

func TestOnConfirmationBustReversesQty(t *testing.T) {
	e := NewEngine(buildTestCache(t), nil)
	e.OnConfirmation(confirmation(schema.StatusFilled, schema.ExecTransNew, schema.SideBuy, 100, 100, 1000, 0))
	e.OnConfirmation(confirmation(schema.StatusFilled, schema.ExecTransCancel, schema.SideBuy, 100, 100, 1000, 0))

	snap := e.SubAccountPosition(10, 100).Snapshot()
	if snap.Qty != 0 {
		t.Fatalf("bust should reverse qty: got %d", snap.Qty)
	}
}

func TestOnConfirmationTerminalReleasesOutstanding(t *testing.T) {
	e := NewEngine(buildTestCache(t), nil)
	e.OnConfirmation(confirmation(schema.StatusUnconfirmedNew, schema.ExecTransNew, schema.SideBuy, 100, 0, 1000, 100))
	e.OnConfirmation(confirmation(schema.StatusCanceled, schema.ExecTransNew, schema.SideBuy, 100, 0, 1000, 100))

	snap := e.SubAccountPosition(10, 100).Snapshot()
	if snap.OutstandingBuy != 0 {
		t.Fatalf("cancel should release remaining outstanding: got %d", snap.OutstandingBuy)
	}
}

func TestSubAccountSummaryAggregatesAcrossSecurities(t *testing.T) {
	e := NewEngine(buildTestCache(t), nil)
	e.SubAccountPosition(10, 100).Seed(0, 0, 500)
	e.SubAccountPosition(10, 200).Seed(0, 0, 250)

	realized, _ := e.SubAccountSummary(10)
	if realized != 750 {
		t.Fatalf("summary realized: got %d want 750", realized)
	}
}

func TestMarkToMarketTickWritesPnlFile(t *testing.T) {
	e := NewEngine(buildTestCache(t), nil)
	// Filled at 900 against a close price of 1000.
	e.OnConfirmation(confirmation(schema.StatusFilled, schema.ExecTransNew, schema.SideBuy, 100, 100, 900, 0))

	dir := t.TempDir()
	writers := make(map[uint32]*pnlWriter)
	e.markToMarketTick(dir, writers)

	snap := e.SubAccountPosition(10, 100).Snapshot()
	if snap.UnrealizedPnL == 0 {
		t.Fatalf("expected mark-to-market against the security's close price to move unrealized pnl")
	}
	if _, ok := writers[10]; !ok {
		t.Fatalf("expected a pnl writer to be created for sub-account 10")
	}
}

func TestSeedBeginningOfDayReusesSameDayBoundary(t *testing.T) {
	store := refstore.NewMemoryStore()
	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	store.InsertPosition(refstore.PositionRow{UserID: 1, SubAccountID: 10, SecurityID: 100, BrokerAccountID: 200, Qty: 300, AvgPrice: 900, RealizedPnL: 10, TimeUTC: yesterday})

	dir := t.TempDir()
	sessionPath := filepath.Join(dir, "session")
	now := time.Now().UTC()

	e := NewEngine(buildTestCache(t), store)
	if err := e.SeedBeginningOfDay(store, sessionPath, now); err != nil {
		t.Fatalf("SeedBeginningOfDay: %v", err)
	}
	snap := e.SubAccountPosition(10, 100).Snapshot()
	if snap.Qty != 300 || snap.AvgPrice != 900 {
		t.Fatalf("BoD seed: %+v", snap)
	}

	// today's trade happens after the first boot...
	store.InsertPosition(refstore.PositionRow{UserID: 1, SubAccountID: 10, SecurityID: 100, BrokerAccountID: 200, Qty: 400, AvgPrice: 950, RealizedPnL: 20, TimeUTC: now})

	// ...a restart later the same day must reuse the persisted boundary,
	// not "now", or it would pick up today's own trade as if it were BoD.
	e2 := NewEngine(buildTestCache(t), store)
	if err := e2.SeedBeginningOfDay(store, sessionPath, now.Add(time.Minute)); err != nil {
		t.Fatalf("SeedBeginningOfDay (restart): %v", err)
	}
	snap2 := e2.SubAccountPosition(10, 100).Snapshot()
	if snap2.Qty != 300 || snap2.AvgPrice != 900 {
		t.Fatalf("restart within the same day should reuse the original boundary: %+v", snap2)
	}
}
