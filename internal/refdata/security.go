package refdata

import "github.com/tradecore/engine/internal/schema"

// SecurityType enumerates the instrument types the cache tracks.
type SecurityType uint8

const (
	SecurityTypeUnknown SecurityType = iota
	SecurityTypeEquity
	SecurityTypeFuture
	SecurityTypeOption
	SecurityTypeForexPair
)

// PriceSource supplies the current traded price for a security, backed
// by the market-data hub. Kept as an interface so refdata does not
// import marketdata (which itself needs refdata for routing).
type PriceSource interface {
	LastPrice(securityID uint32) schema.Price
}

// Security is immutable after load (spec §3).
type Security struct {
	ID           uint32
	Symbol       string
	ExchangeID   uint32
	Type         SecurityType
	Currency     string
	Multiplier   int64
	CurrencyRate float64 // rate to the reference numeraire
	FlatTick     schema.Price
	LotSize      int64
	ClosePrice   schema.Price

	// Option fields, zero for non-options.
	Underlying uint32
	Strike     schema.Price
	IsCall     bool
	Expiry     int64 // epoch seconds

	exchange *Exchange
	prices   PriceSource
}

// CurrentPrice returns the hub's last traded price for this security,
// falling back to the static close price when the hub has no data yet
// (spec §3).
func (s *Security) CurrentPrice() schema.Price {
	if s.prices != nil {
		if p := s.prices.LastPrice(s.ID); p != 0 {
			return p
		}
	}
	return s.ClosePrice
}

// TickSize resolves via the exchange's ladder when the security itself
// carries no flat tick override.
func (s *Security) TickSize(reference schema.Price) schema.Price {
	if s.FlatTick != 0 {
		return s.FlatTick
	}
	if s.exchange != nil {
		return s.exchange.TickSize(reference)
	}
	return 0
}

// InTradePeriod delegates to the owning exchange's session windows.
func (s *Security) InTradePeriod() bool {
	if s.exchange == nil {
		return false
	}
	return s.exchange.InTradePeriod(nowFunc())
}

// Exchange returns the owning exchange.
func (s *Security) Exchange() *Exchange {
	return s.exchange
}
