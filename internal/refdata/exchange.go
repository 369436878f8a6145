package refdata

import (
	"sort"
	"time"

	"github.com/tradecore/engine/internal/schema"
)

// TickRule is one interval of an exchange's tiered tick-size ladder:
// prices in [FromPrice, next rule's FromPrice) round to TickSize.
type TickRule struct {
	FromPrice schema.Price
	TickSize  schema.Price
}

// Session is a trading or break window expressed in seconds-since local
// midnight, per spec §3.
type Session struct {
	StartSec int
	EndSec   int
}

// contains reports whether secOfDay falls within [StartSec, EndSec).
func (s Session) contains(secOfDay int) bool {
	if s.StartSec <= s.EndSec {
		return secOfDay >= s.StartSec && secOfDay < s.EndSec
	}
	// wraps past midnight
	return secOfDay >= s.StartSec || secOfDay < s.EndSec
}

// OddLotPolicy controls how an exchange treats sub-lot quantities.
type OddLotPolicy uint8

const (
	OddLotReject OddLotPolicy = iota
	OddLotAllow
)

// Exchange is immutable after load (spec §3).
type Exchange struct {
	ID          uint32
	Name        string
	Location    *time.Location
	UTCOffsetS  int
	TickLadder  []TickRule // sorted ascending by FromPrice; empty means flat tick size
	FlatTick    schema.Price
	TradeWindow []Session
	BreakWindow []Session
	OddLot      OddLotPolicy
}

// TickSize resolves the applicable tick size for a reference price via
// the ladder, falling back to FlatTick when no ladder is configured.
func (e *Exchange) TickSize(reference schema.Price) schema.Price {
	if len(e.TickLadder) == 0 {
		return e.FlatTick
	}
	idx := sort.Search(len(e.TickLadder), func(i int) bool {
		return e.TickLadder[i].FromPrice > reference
	})
	if idx == 0 {
		return e.TickLadder[0].TickSize
	}
	return e.TickLadder[idx-1].TickSize
}

// InTradePeriod reports whether the given instant, converted to this
// exchange's local time, falls in a trade session and not in a break.
func (e *Exchange) InTradePeriod(at time.Time) bool {
	loc := e.Location
	if loc == nil {
		loc = time.UTC
	}
	local := at.In(loc)
	secOfDay := local.Hour()*3600 + local.Minute()*60 + local.Second()

	inTrade := false
	for _, w := range e.TradeWindow {
		if w.contains(secOfDay) {
			inTrade = true
			break
		}
	}
	if !inTrade {
		return false
	}
	for _, b := range e.BreakWindow {
		if b.contains(secOfDay) {
			return false
		}
	}
	return true
}
