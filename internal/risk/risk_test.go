package risk

import (
	"testing"
	"time"

	"github.com/tradecore/engine/internal/position"
	"github.com/tradecore/engine/internal/refdata"
	"github.com/tradecore/engine/internal/refstore"
	"github.com/tradecore/engine/internal/schema"
)

func buildChecker(t *testing.T, userLimits, subLimits, brokerLimits string) (*Checker, *refdata.Cache, *position.Engine) {
	t.Helper()
	s := refstore.NewMemoryStore()
	s.AddExchange(refstore.ExchangeRow{ID: 1, Name: "XTAI", TZName: "Asia/Taipei", UTCOffsetS: 8 * 3600})
	s.AddSecurity(refstore.SecurityRow{ID: 100, Symbol: "2330", ExchangeID: 1, Type: 1, Currency: "TWD", Multiplier: 1, LotSize: 1, ClosePrice: 1000})
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
	return NewChecker(cache, positions), cache, positions
}

func testOrder(qty schema.Quantity, price schema.Price, side schema.Side) *schema.Order {
	return &schema.Order{
		SubAccountID: 10, BrokerAccount: 200, UserID: 1, SecurityID: 100,
		Side: side, Qty: qty, Price: price,
	}
}

func TestCheckPassesWithinLimits(t *testing.T) {
	c, _, _ := buildChecker(t, "order_qty=1000", "order_qty=1000", "order_qty=1000")
	if err := c.Check(testOrder(100, 500, schema.SideBuy), 0); err != nil {
		t.Fatalf("expected no risk error, got %v", err)
	}
}

func TestCheckOrderQtyBreach(t *testing.T) {
	c, _, _ := buildChecker(t, "order_qty=500", "", "")
	err := c.Check(testOrder(600, 10, schema.SideBuy), 0)
	if err == nil {
		t.Fatalf("expected order_qty breach")
	}
	if err.Check != "order_qty" || err.Entity != "user" {
		t.Fatalf("wrong check failed: %+v", err)
	}
}

func TestCheckOrderValueBreach(t *testing.T) {
	c, _, _ := buildChecker(t, "", "order_value=1000", "")
	err := c.Check(testOrder(100, 100, schema.SideBuy), 0) // value = 10,000
	if err == nil || err.Check != "order_value" {
		t.Fatalf("expected order_value breach, got %v", err)
	}
	if err.Entity != "sub_account" {
		t.Fatalf("sub-account should be checked before user: %+v", err)
	}
}

func TestCheckShortCircuitsAtFirstFailingEntity(t *testing.T) {
	// sub-account has a tight limit, broker/user don't — sub-account should fail first.
	c, _, _ := buildChecker(t, "order_qty=100000", "order_qty=1", "order_qty=100000")
	err := c.Check(testOrder(50, 10, schema.SideBuy), 0)
	if err == nil || err.Entity != "sub_account" {
		t.Fatalf("expected sub_account to fail first: %+v", err)
	}
}

func TestCheckMsgRateUsesThrottleCount(t *testing.T) {
	c, cache, _ := buildChecker(t, "msg_rate=2", "", "")
	user, _ := cache.User(1)
	now := time.Now().Unix()
	user.Throttle.Bump(now)
	user.Throttle.Bump(now)

	err := c.Check(testOrder(1, 10, schema.SideBuy), now*1_000_000)
	if err == nil || err.Check != "msg_rate" {
		t.Fatalf("expected msg_rate breach after 2 bumps against limit 2, got %v", err)
	}
}

func TestCheckValueLimitUsesPerSecurityExposure(t *testing.T) {
	c, _, positions := buildChecker(t, "", "value=1000", "")
	// pre-existing net exposure of 900 (bought 900, sold 0) on this security.
	positions.SubAccountPosition(10, 100).HandleTrade(true, 900, 1, 1, false)

	err := c.Check(testOrder(200, 1, schema.SideBuy), 0) // this order adds 200 -> worst case 1100 > 1000
	if err == nil || err.Check != "value" {
		t.Fatalf("expected value breach, got %v", err)
	}
}

func TestCheckMsgRateReducedVariantOnlyChecksRate(t *testing.T) {
	c, _, _ := buildChecker(t, "order_qty=1", "", "")
	// order_qty=1 would fail Check, but CheckMsgRate should ignore it.
	err := c.CheckMsgRate(testOrder(500, 10, schema.SideBuy), 0)
	if err != nil {
		t.Fatalf("CheckMsgRate should not run order_qty: %v", err)
	}
}
