package refdata

import "sync"

// PositionValue is the running signed-exposure counter each account
// entity carries (spec §3, used by the risk engine's value/turnover
// checks). It tracks outstanding (unfilled, working) exposure by side
// plus filled bought/sold totals, in both quantity and notional terms.
type PositionValue struct {
	mu sync.Mutex

	BoughtQty     int64
	SoldQty       int64
	OutstandingBuy  int64
	OutstandingSell int64

	BoughtValue     int64
	SoldValue       int64
	OutstandingBuyValue  int64
	OutstandingSellValue int64
}

// HandleNew records a new working order's exposure (spec §4.6:
// UnconfirmedNew increments the outstanding counter by signed value).
func (p *PositionValue) HandleNew(isBuy bool, qty, price, multiplier int64) {
	value := qty * price * multiplier
	p.mu.Lock()
	defer p.mu.Unlock()
	if isBuy {
		p.OutstandingBuy += qty
		p.OutstandingBuyValue += value
	} else {
		p.OutstandingSell += qty
		p.OutstandingSellValue += value
	}
}

// ReleaseOutstanding removes leaves qty exposure from the outstanding
// side on a terminal reject/cancel/expiry (spec §4.6).
func (p *PositionValue) ReleaseOutstanding(isBuy bool, leavesQty, price, multiplier int64) {
	value := leavesQty * price * multiplier
	p.mu.Lock()
	defer p.mu.Unlock()
	if isBuy {
		p.OutstandingBuy = clampNonNeg(p.OutstandingBuy - leavesQty)
		p.OutstandingBuyValue = clampNonNeg(p.OutstandingBuyValue - value)
	} else {
		p.OutstandingSell = clampNonNeg(p.OutstandingSell - leavesQty)
		p.OutstandingSellValue = clampNonNeg(p.OutstandingSellValue - value)
	}
}

// ApplyFill moves qty from outstanding into bought/sold on a fill. A bust
// (trans_type=cancel) only reverses the bought/sold counters — the
// outstanding side was already cleared by the fill it undoes.
func (p *PositionValue) ApplyFill(isBuy bool, qty, price, multiplier int64, bust bool) {
	value := qty * price * multiplier
	p.mu.Lock()
	defer p.mu.Unlock()
	sign := int64(1)
	if bust {
		sign = -1
	}
	if isBuy {
		if !bust {
			p.OutstandingBuy = clampNonNeg(p.OutstandingBuy - qty)
			p.OutstandingBuyValue = clampNonNeg(p.OutstandingBuyValue - value)
		}
		p.BoughtQty += sign * qty
		p.BoughtValue += sign * value
	} else {
		if !bust {
			p.OutstandingSell = clampNonNeg(p.OutstandingSell - qty)
			p.OutstandingSellValue = clampNonNeg(p.OutstandingSellValue - value)
		}
		p.SoldQty += sign * qty
		p.SoldValue += sign * value
	}
}

func clampNonNeg(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// Snapshot returns a value copy for lock-free reads by the risk engine.
func (p *PositionValue) Snapshot() PositionValue {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *p
	cp.mu = sync.Mutex{}
	return cp
}

// User is immutable identity with mutable exposure counters (spec §3).
type User struct {
	ID           uint32
	Name         string
	PasswordHash [20]byte // SHA-1
	Admin        bool
	Disabled     bool
	SubAccounts  map[uint32]struct{}
	Limits       Limits
	Throttle     Throttle
	PerSecurity  map[uint32]*Throttle
	perSecMu     sync.Mutex
	Position     PositionValue
}

// ThrottleFor returns (creating if needed) the per-security throttle.
func (u *User) ThrottleFor(securityID uint32) *Throttle {
	u.perSecMu.Lock()
	defer u.perSecMu.Unlock()
	if u.PerSecurity == nil {
		u.PerSecurity = make(map[uint32]*Throttle)
	}
	t, ok := u.PerSecurity[securityID]
	if !ok {
		t = &Throttle{}
		u.PerSecurity[securityID] = t
	}
	return t
}

// SubAccount is immutable identity with a broker-account routing map
// keyed by exchange id (0 = default), plus mutable exposure counters.
type SubAccount struct {
	ID              uint32
	Limits          Limits
	Throttle        Throttle
	PerSecurity     map[uint32]*Throttle
	perSecMu        sync.Mutex
	BrokerAccounts  map[uint32]uint32 // exchange.id -> broker_account.id, 0 = default
	Position        PositionValue
}

// ThrottleFor returns (creating if needed) the per-security throttle.
func (s *SubAccount) ThrottleFor(securityID uint32) *Throttle {
	s.perSecMu.Lock()
	defer s.perSecMu.Unlock()
	if s.PerSecurity == nil {
		s.PerSecurity = make(map[uint32]*Throttle)
	}
	t, ok := s.PerSecurity[securityID]
	if !ok {
		t = &Throttle{}
		s.PerSecurity[securityID] = t
	}
	return t
}

// BrokerAccountFor resolves the broker account for an exchange, falling
// back to the default (key 0) mapping (spec §4.4).
func (s *SubAccount) BrokerAccountFor(exchangeID uint32) (uint32, bool) {
	if id, ok := s.BrokerAccounts[exchangeID]; ok {
		return id, true
	}
	id, ok := s.BrokerAccounts[0]
	return id, ok
}

// BrokerAccount is immutable identity plus adapter binding and limits.
type BrokerAccount struct {
	ID          uint32
	AdapterName string
	Handle      string
	Params      map[string]string
	Limits      Limits
	Throttle    Throttle
	PerSecurity map[uint32]*Throttle
	perSecMu    sync.Mutex
	Position    PositionValue
}

// ThrottleFor returns (creating if needed) the per-security throttle.
func (b *BrokerAccount) ThrottleFor(securityID uint32) *Throttle {
	b.perSecMu.Lock()
	defer b.perSecMu.Unlock()
	if b.PerSecurity == nil {
		b.PerSecurity = make(map[uint32]*Throttle)
	}
	t, ok := b.PerSecurity[securityID]
	if !ok {
		t = &Throttle{}
		b.PerSecurity[securityID] = t
	}
	return t
}
