// Package risk implements the stateless pre-trade risk engine (spec
// §4.5): an ordered, short-circuiting table of checks run against a
// sub-account, its broker account, and its user, driven by cached limits
// and the position engine's live exposure counters.
package risk

import (
	"fmt"

	"github.com/tradecore/engine/internal/position"
	"github.com/tradecore/engine/internal/refdata"
	"github.com/tradecore/engine/internal/schema"
)

// RiskError is returned by a failed check. The spec flags "thread-local
// error string" as a design smell (§9 Open Question): this type is an
// explicit return value instead, threaded through Confirmation.Text on
// the resulting RiskRejected event.
type RiskError struct {
	Entity   string // "sub_account" | "broker_account" | "user"
	EntityID uint32
	Check    string
	Reason   string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk: %s %d failed %s check: %s", e.Entity, e.EntityID, e.Check, e.Reason)
}

// Checker runs the pre-trade check table against the reference cache and
// the position engine's live exposure.
type Checker struct {
	cache     *refdata.Cache
	positions *position.Engine
}

// NewChecker builds a Checker bound to cache (limits, throttles) and
// positions (per-security value/turnover exposure).
func NewChecker(cache *refdata.Cache, positions *position.Engine) *Checker {
	return &Checker{cache: cache, positions: positions}
}

// entityView is the narrow slice of a User/SubAccount/BrokerAccount the
// check table needs, so the ordered loop over sub-account/broker-
// account/user can share one implementation.
type entityView struct {
	kind        string
	id          uint32
	limits      refdata.Limits
	throttle    *refdata.Throttle
	throttleFor func(securityID uint32) *refdata.Throttle
	aggregate   *refdata.PositionValue
	security    *position.Position // per-(entity, security) exposure
}

// Check runs every entry in the check table, in order, against the
// sub-account, then the broker account, then the user — short-circuiting
// on the first failure at any level (spec §4.5). nowUS is the order's
// submission time in microseconds UTC, used for the message-rate checks.
func (c *Checker) Check(o *schema.Order, nowUS int64) *RiskError {
	sec, ok := c.cache.Security(o.SecurityID)
	if !ok {
		return &RiskError{Entity: "security", EntityID: o.SecurityID, Check: "lookup", Reason: "unknown security"}
	}

	views, err := c.buildViews(o)
	if err != nil {
		return err
	}

	isBuy := o.Side == schema.SideBuy
	thisOrderValue := int64(o.Qty) * int64(o.Price) * sec.Multiplier
	thisOrderValueRated := thisOrderValue
	if sec.CurrencyRate != 0 {
		thisOrderValueRated = int64(float64(thisOrderValue) * sec.CurrencyRate)
	}
	nowSecond := nowUS / 1_000_000

	for _, v := range views {
		if rerr := checkEntity(v, o, nowSecond, isBuy, thisOrderValue, thisOrderValueRated); rerr != nil {
			return rerr
		}
	}
	return nil
}

// CheckMsgRate is the reduced variant used at cancel time (spec §4.5):
// only the two message-rate checks run, since a cancel carries no
// qty/price/value exposure of its own.
func (c *Checker) CheckMsgRate(o *schema.Order, nowSecond int64) *RiskError {
	views, err := c.buildViews(o)
	if err != nil {
		return err
	}
	for _, v := range views {
		if v.limits.MsgRatePerSecurity > 0 {
			if int(v.throttleFor(o.SecurityID).Count(nowSecond)) >= v.limits.MsgRatePerSecurity {
				return &RiskError{Entity: v.kind, EntityID: v.id, Check: "msg_rate_per_security", Reason: "per-security message rate limit exceeded"}
			}
		}
		if v.limits.MsgRate > 0 {
			if int(v.throttle.Count(nowSecond)) >= v.limits.MsgRate {
				return &RiskError{Entity: v.kind, EntityID: v.id, Check: "msg_rate", Reason: "message rate limit exceeded"}
			}
		}
	}
	return nil
}

func (c *Checker) buildViews(o *schema.Order) ([]entityView, *RiskError) {
	sub, ok := c.cache.SubAccount(o.SubAccountID)
	if !ok {
		return nil, &RiskError{Entity: "sub_account", EntityID: o.SubAccountID, Check: "lookup", Reason: "unknown sub-account"}
	}
	broker, ok := c.cache.BrokerAccount(o.BrokerAccount)
	if !ok {
		return nil, &RiskError{Entity: "broker_account", EntityID: o.BrokerAccount, Check: "lookup", Reason: "unknown broker account"}
	}
	user, ok := c.cache.User(o.UserID)
	if !ok {
		return nil, &RiskError{Entity: "user", EntityID: o.UserID, Check: "lookup", Reason: "unknown user"}
	}

	return []entityView{
		{
			kind: "sub_account", id: sub.ID, limits: sub.Limits, throttle: &sub.Throttle,
			throttleFor: sub.ThrottleFor, aggregate: &sub.Position,
			security: c.positions.SubAccountPosition(sub.ID, o.SecurityID),
		},
		{
			kind: "broker_account", id: broker.ID, limits: broker.Limits, throttle: &broker.Throttle,
			throttleFor: broker.ThrottleFor, aggregate: &broker.Position,
			security: c.positions.BrokerAccountPosition(broker.ID, o.SecurityID),
		},
		{
			kind: "user", id: user.ID, limits: user.Limits, throttle: &user.Throttle,
			throttleFor: user.ThrottleFor, aggregate: &user.Position,
			security: c.positions.UserPosition(user.ID, o.SecurityID),
		},
	}, nil
}

func checkEntity(v entityView, o *schema.Order, nowSecond int64, isBuy bool, thisOrderValue, thisOrderValueRated int64) *RiskError {
	if v.limits.MsgRatePerSecurity > 0 {
		if int(v.throttleFor(o.SecurityID).Count(nowSecond)) >= v.limits.MsgRatePerSecurity {
			return &RiskError{Entity: v.kind, EntityID: v.id, Check: "msg_rate_per_security", Reason: "per-security message rate limit exceeded"}
		}
	}
	if v.limits.MsgRate > 0 {
		if int(v.throttle.Count(nowSecond)) >= v.limits.MsgRate {
			return &RiskError{Entity: v.kind, EntityID: v.id, Check: "msg_rate", Reason: "message rate limit exceeded"}
		}
	}
	if v.limits.OrderQty > 0 && o.Qty > v.limits.OrderQty {
		return &RiskError{Entity: v.kind, EntityID: v.id, Check: "order_qty",
			Reason: fmt.Sprintf("order quantity %d > %d", o.Qty, v.limits.OrderQty)}
	}
	if v.limits.OrderValue > 0 && schema.Notional(thisOrderValueRated) > v.limits.OrderValue {
		return &RiskError{Entity: v.kind, EntityID: v.id, Check: "order_value",
			Reason: fmt.Sprintf("order value %d > %d", thisOrderValueRated, v.limits.OrderValue)}
	}

	sec := v.security.Snapshot()
	if v.limits.Value > 0 {
		net := sec.BoughtValue - sec.SoldValue
		if !valueOK(isBuy, net, sec.OutstandingBuyValue, sec.OutstandingSellValue, thisOrderValue, int64(v.limits.Value)) {
			return &RiskError{Entity: v.kind, EntityID: v.id, Check: "value", Reason: "position value limit exceeded"}
		}
	}
	if v.limits.Turnover > 0 {
		turnover := sec.BoughtValue + sec.OutstandingBuyValue + sec.SoldValue + sec.OutstandingSellValue + thisOrderValue
		if turnover > int64(v.limits.Turnover) {
			return &RiskError{Entity: v.kind, EntityID: v.id, Check: "turnover", Reason: "turnover limit exceeded"}
		}
	}

	agg := v.aggregate.Snapshot()
	if v.limits.TotalValue > 0 {
		net := agg.BoughtValue - agg.SoldValue
		if !valueOK(isBuy, net, agg.OutstandingBuyValue, agg.OutstandingSellValue, thisOrderValue, int64(v.limits.TotalValue)) {
			return &RiskError{Entity: v.kind, EntityID: v.id, Check: "total_value", Reason: "aggregate position value limit exceeded"}
		}
	}
	if v.limits.TotalTurnover > 0 {
		turnover := agg.BoughtValue + agg.OutstandingBuyValue + agg.SoldValue + agg.OutstandingSellValue + thisOrderValue
		if turnover > int64(v.limits.TotalTurnover) {
			return &RiskError{Entity: v.kind, EntityID: v.id, Check: "total_turnover", Reason: "aggregate turnover limit exceeded"}
		}
	}
	return nil
}

// valueOK implements the signed-or-absolute rule (spec §4.5): buy side
// takes the max of |net + outstanding_buy + v| and |net - outstanding_sell|;
// sell side is the mirror image.
func valueOK(isBuy bool, net, outstandingBuyValue, outstandingSellValue, thisValue, limit int64) bool {
	var worstA, worstB int64
	if isBuy {
		worstA = absInt64(net + outstandingBuyValue + thisValue)
		worstB = absInt64(net - outstandingSellValue)
	} else {
		worstA = absInt64(net - outstandingSellValue - thisValue)
		worstB = absInt64(net + outstandingBuyValue)
	}
	worst := worstA
	if worstB > worst {
		worst = worstB
	}
	return worst <= limit
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
