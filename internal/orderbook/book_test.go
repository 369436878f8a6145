package orderbook

import (
	"context"
	"testing"
	"time"

	"github.com/tradecore/engine/internal/schema"
)

type recordingSink struct {
	confirmations []schema.Confirmation
}

func (r *recordingSink) OnConfirmation(c schema.Confirmation) {
	r.confirmations = append(r.confirmations, c)
}

func newTestJournal(t *testing.T, dir string) *JournalWriter {
	t.Helper()
	w, err := NewJournalWriter(DefaultConfirmationJournalConfig(dir))
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

func TestFullFillLifecycle(t *testing.T) {
	dir := t.TempDir()
	journal := newTestJournal(t, dir)
	sink := &recordingSink{}
	book := NewBook(journal, sink)

	o := &schema.Order{Side: schema.SideBuy, Qty: 100, Price: 1000}
	o = book.NewWorkingOrder(o, 1000)
	book.HandleNew(o.ID, 1001)
	book.HandleFill(o.ID, 100, 1000, "E1", 1002, false, schema.ExecTransNew)

	got := book.Get(o.ID)
	if got.Status != schema.StatusFilled {
		t.Fatalf("status: got %v want Filled", got.Status)
	}
	if got.CumQty != 100 || got.LeavesQty != 0 || got.AvgPrice != 1000 {
		t.Fatalf("fill fields: %+v", got)
	}

	book.HandleFill(o.ID, 100, 1000, "E1", 1003, false, schema.ExecTransNew)
	got2 := book.Get(o.ID)
	if got2.CumQty != 100 {
		t.Fatalf("duplicate exec id should be a no-op: %+v", got2)
	}
}

func TestBustReversesFillWithoutUnterminating(t *testing.T) {
	dir := t.TempDir()
	journal := newTestJournal(t, dir)
	book := NewBook(journal, &recordingSink{})

	o := &schema.Order{Side: schema.SideBuy, Qty: 100, Price: 1000}
	o = book.NewWorkingOrder(o, 1000)
	book.HandleNew(o.ID, 1001)
	book.HandleFill(o.ID, 100, 1000, "E1", 1002, false, schema.ExecTransNew)
	book.HandleFill(o.ID, 100, 1000, "E2", 1003, false, schema.ExecTransCancel)

	got := book.Get(o.ID)
	if got.CumQty != 0 || got.AvgPrice != 0 {
		t.Fatalf("bust should zero cum_qty/avg_px: %+v", got)
	}
	if got.Status != schema.StatusFilled {
		t.Fatalf("bust must not un-terminate a Filled order: got %v", got.Status)
	}
}

func TestPartialFillUpgradesStatus(t *testing.T) {
	dir := t.TempDir()
	journal := newTestJournal(t, dir)
	book := NewBook(journal, &recordingSink{})

	o := &schema.Order{Side: schema.SideBuy, Qty: 200, Price: 500}
	o = book.NewWorkingOrder(o, 1000)
	book.HandleNew(o.ID, 1001)
	book.HandleFill(o.ID, 80, 500, "E1", 1002, true, schema.ExecTransNew)

	got := book.Get(o.ID)
	if got.Status != schema.StatusPartiallyFilled {
		t.Fatalf("any non-zero partial fill should upgrade status: got %v", got.Status)
	}
	if got.CumQty != 80 || got.LeavesQty != 120 {
		t.Fatalf("partial fill quantities: %+v", got)
	}
}

func TestOTCFillsImmediatelyAtSubmittedPrice(t *testing.T) {
	dir := t.TempDir()
	journal := newTestJournal(t, dir)
	book := NewBook(journal, &recordingSink{})

	o := &schema.Order{Side: schema.SideBuy, Type: schema.OrderTypeOTC, Qty: 50, Price: 700}
	book.FillOTC(o, 1000)

	got := book.Get(o.ID)
	if got.Status != schema.StatusFilled {
		t.Fatalf("OTC order should fill immediately: got %v", got.Status)
	}
	if got.AvgPrice != 700 || got.CumQty != 50 {
		t.Fatalf("OTC fill fields: %+v", got)
	}
}

func TestSeedIDCounterNeverDecreasesAcrossRestart(t *testing.T) {
	var book Book
	now := time.Date(2024, 6, 10, 9, 30, 0, 0, time.UTC) // Monday
	book.SeedIDCounter(1_000_000, now)
	seeded := book.idCounter.Load()

	dow := uint64(now.Weekday())
	secOfDay := uint64(9*3600 + 30*60)
	wantClock := dow*10_000_000 + secOfDay*50
	wantJournal := uint64(1_000_000 + 100_000)
	want := wantJournal
	if wantClock > want {
		want = wantClock
	}
	if seeded != want {
		t.Fatalf("seed: got %d want %d", seeded, want)
	}
}

func TestRecoverReplaysJournalIntoEmptyBook(t *testing.T) {
	dir := t.TempDir()
	journal := newTestJournal(t, dir)
	book := NewBook(journal, &recordingSink{})

	o := &schema.Order{Side: schema.SideBuy, Qty: 200, Price: 500}
	o = book.NewWorkingOrder(o, 1000)
	book.HandleNew(o.ID, 1001)
	book.HandleFill(o.ID, 80, 500, "E1", 1002, true, schema.ExecTransNew)

	// Force the writer to flush its queue to disk before replay.
	journal.Close()

	freshJournal := newTestJournal(t, dir)
	fresh := NewBook(freshJournal, &recordingSink{})
	if err := fresh.Recover(context.Background(), dir, defaultFilePrefix); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	got := fresh.Get(o.ID)
	if got == nil {
		t.Fatalf("recovered order %d not found", o.ID)
	}
	if got.CumQty != 80 || got.LeavesQty != 120 || got.Status != schema.StatusPartiallyFilled {
		t.Fatalf("recovered order state: %+v", got)
	}
}
