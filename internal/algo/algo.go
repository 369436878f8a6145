// Package algo implements the sharded algo execution runtime (spec
// §4.7): per-shard dispatch strands, market-data wake-up handling,
// execution-callback normalization, a timer service, and the durable
// algo-event journal, plus the TWAP reference strategy (spec §4.8).
package algo

import "github.com/tradecore/engine/internal/schema"

// ParamKind tags the variant held by a ParamValue (spec §9 "ParamValue
// is a tagged sum").
type ParamKind int

const (
	ParamBool ParamKind = iota
	ParamInt
	ParamFloat
	ParamString
	ParamSecurityTuple
	ParamVector
)

// SecurityTuple names a security together with the routing/side/qty
// needed to place child orders against it (spec §4.8 "Security" param).
type SecurityTuple struct {
	Source       uint32
	SecurityID   uint32
	SubAccountID uint32
	Side         schema.Side
	Qty          schema.Quantity
}

// ParamValue is the tagged sum carried through algo parameter maps.
type ParamValue struct {
	Kind     ParamKind
	Bool     bool
	Int      int64
	Float    float64
	Str      string
	Security SecurityTuple
	Vector   []float64
}

// ParamDef declares one parameter an algo accepts, with bounds/precision
// metadata (spec §4.8 "declared via GetParamDefs").
type ParamDef struct {
	Name      string
	Kind      ParamKind
	Required  bool
	Min, Max  float64 // both zero means unbounded
	Precision int
}

// Algo is the strategy contract every callback runs against, always on
// the owning shard's strand — never concurrently with another callback
// for the same algo id (spec §8).
type Algo interface {
	GetParamDefs() []ParamDef
	OnStart(ctx *Context, params map[string]ParamValue) string
	OnStop(ctx *Context)
	OnMarketTrade(ctx *Context, inst *Instrument, cur, prev schema.MarketData)
	OnMarketQuote(ctx *Context, inst *Instrument, cur, prev schema.MarketData)
	OnConfirmation(ctx *Context, c schema.Confirmation)
	OnTimer(ctx *Context)
}
