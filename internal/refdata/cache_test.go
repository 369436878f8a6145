package refdata

import (
	"testing"

	"github.com/tradecore/engine/internal/refstore"
	"github.com/tradecore/engine/internal/schema"
)

type fakePriceSource map[uint32]schema.Price

func (f fakePriceSource) LastPrice(securityID uint32) schema.Price { return f[securityID] }

func buildTestStore() *refstore.MemoryStore {
	s := refstore.NewMemoryStore()
	s.AddExchange(refstore.ExchangeRow{ID: 1, Name: "XTAI", TZName: "Asia/Taipei", UTCOffsetS: 8 * 3600})
	s.AddTickRule(refstore.TickRuleRow{ExchangeID: 1, FromPrice: 0, TickSize: 1})
	s.AddTickRule(refstore.TickRuleRow{ExchangeID: 1, FromPrice: 1000, TickSize: 5})
	s.AddSession(refstore.SessionRow{ExchangeID: 1, Kind: "trade", StartSec: 9 * 3600, EndSec: 13*3600 + 30*60})

	s.AddSecurity(refstore.SecurityRow{ID: 100, Symbol: "2330", ExchangeID: 1, Type: 1, Currency: "TWD", Multiplier: 1000, LotSize: 1000, ClosePrice: 58000})

	s.AddUser(refstore.UserRow{ID: 1, Name: "alice", LimitsBlob: "msg_rate=10,order_qty=5000"})
	s.AddSubAccount(refstore.SubAccountRow{ID: 10, LimitsBlob: "value=1000000"})
	s.AddBrokerAccount(refstore.BrokerAccountRow{ID: 200, AdapterName: "sim", Handle: "SIM1", ParamsBlob: "host=127.0.0.1"})
	s.AddUserSubAccount(refstore.UserSubAccountRow{UserID: 1, SubAccountID: 10})
	s.AddSubAccountBrokerAccount(refstore.SubAccountBrokerAccountRow{SubAccountID: 10, ExchangeID: 0, BrokerAccountID: 200})
	return s
}

func TestCacheLoadWiresEverything(t *testing.T) {
	c, err := Load(buildTestStore())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	sec, ok := c.Security(100)
	if !ok {
		t.Fatalf("security 100 not found")
	}
	if sec.Symbol != "2330" {
		t.Fatalf("symbol mismatch: %s", sec.Symbol)
	}
	if sec.Exchange() == nil {
		t.Fatalf("security's exchange link not wired")
	}
	if got := sec.TickSize(500); got != 1 {
		t.Fatalf("tick size below first breakpoint: got %d want 1", got)
	}
	if got := sec.TickSize(1500); got != 5 {
		t.Fatalf("tick size above breakpoint: got %d want 5", got)
	}

	u, ok := c.User(1)
	if !ok {
		t.Fatalf("user 1 not found")
	}
	if u.Limits.MsgRate != 10 {
		t.Fatalf("user limits not parsed: %+v", u.Limits)
	}
	if !c.UserCanAccess(1, 10) {
		t.Fatalf("user should have access to sub account 10")
	}
	if c.UserCanAccess(1, 999) {
		t.Fatalf("user should not have access to an unmapped sub account")
	}

	sa, ok := c.SubAccount(10)
	if !ok {
		t.Fatalf("sub account 10 not found")
	}
	brokerID, ok := sa.BrokerAccountFor(1)
	if !ok || brokerID != 200 {
		t.Fatalf("broker account resolution via default mapping failed: %d %v", brokerID, ok)
	}

	ba, ok := c.BrokerAccount(200)
	if !ok {
		t.Fatalf("broker account 200 not found")
	}
	if ba.Params["host"] != "127.0.0.1" {
		t.Fatalf("broker params not parsed: %+v", ba.Params)
	}

	if got := sec.CurrentPrice(); got != sec.ClosePrice {
		t.Fatalf("with no price source wired, should fall back to close price: got %d", got)
	}
	c.SetPriceSource(fakePriceSource{100: 59000})
	if got := sec.CurrentPrice(); got != 59000 {
		t.Fatalf("after wiring a price source, should return the live price: got %d", got)
	}
}

func TestCacheChecksumStableAcrossLoads(t *testing.T) {
	store := buildTestStore()
	c1, err := Load(store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c2, err := Load(store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c1.Checksum() != c2.Checksum() {
		t.Fatalf("checksum should be deterministic for the same reference set")
	}
}
