package schema

// MarketDataKind distinguishes trade vs. quote-only normalized updates.
type MarketDataKind uint8

const (
	MarketDataUnknown MarketDataKind = iota
	MarketDataTrade
	MarketDataQuote
)

// DepthLevels is the fixed depth-of-book size spec §3 mandates: index 0
// is top-of-book.
const DepthLevels = 5

// Quote is one level of the book.
type Quote struct {
	AskPrice Price
	AskSize  Quantity
	BidPrice Price
	BidSize  Quantity
}

// Trade is the cumulative intraday trade summary for one security.
type Trade struct {
	Open   Price
	High   Price
	Low    Price
	Close  Price
	Qty    Quantity // last trade size
	VWAP   Price
	Volume Quantity
}

// Equal reports structural equality, used by the algo runtime to decide
// whether a trade update actually changed anything (spec §4.7).
func (t Trade) Equal(o Trade) bool {
	return t == o
}

// depthEqual reports structural equality across the whole depth array.
func depthEqual(a, b [DepthLevels]Quote) bool {
	return a == b
}

// MarketData is the most-recent per-(source, security) snapshot the hub
// maintains (spec §3, §4.2).
type MarketData struct {
	Tm    int64 // monotonic update marker, microseconds UTC
	Trade Trade
	Depth [DepthLevels]Quote
}

// QuoteEqual reports whether the top-level depth arrays are identical.
func (m MarketData) QuoteEqual(o MarketData) bool {
	return depthEqual(m.Depth, o.Depth)
}

// TradeEqual reports whether the trade summaries are identical.
func (m MarketData) TradeEqual(o MarketData) bool {
	return m.Trade.Equal(o.Trade)
}

// TopOfBook returns level-0 quote, the book's best bid/ask.
func (m MarketData) TopOfBook() Quote {
	return m.Depth[0]
}
