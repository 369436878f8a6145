package refdata

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tradecore/engine/internal/schema"
)

// Limits bundles the per-entity risk limits from spec §3. Zero means
// "no limit" for every field except the two message-rate fields, which
// are also "no limit" at zero (checked by the risk engine).
type Limits struct {
	MsgRate            int
	MsgRatePerSecurity int
	OrderQty           schema.Quantity
	OrderValue         schema.Notional
	Value              schema.Notional
	Turnover           schema.Notional
	TotalValue         schema.Notional
	TotalTurnover      schema.Notional
}

// ParseLimits parses a comma/semicolon/newline-separated key=value blob
// into Limits. Unknown keys are ignored, per spec §4.1. Values are
// parsed through shopspring/decimal so operators can enter human-typed
// numbers (with or without decimal points) and have them land exactly
// on the target integer/scaled-integer field.
func ParseLimits(blob string) Limits {
	var l Limits
	for _, pair := range splitKV(blob) {
		key, val := pair.key, pair.val
		switch strings.ToLower(key) {
		case "msg_rate":
			l.MsgRate = atoiOr(val, 0)
		case "msg_rate_per_security":
			l.MsgRatePerSecurity = atoiOr(val, 0)
		case "order_qty":
			l.OrderQty = schema.Quantity(decimalOr(val).IntPart())
		case "order_value":
			l.OrderValue = schema.Notional(decimalOr(val).IntPart())
		case "value":
			l.Value = schema.Notional(decimalOr(val).IntPart())
		case "turnover":
			l.Turnover = schema.Notional(decimalOr(val).IntPart())
		case "total_value":
			l.TotalValue = schema.Notional(decimalOr(val).IntPart())
		case "total_turnover":
			l.TotalTurnover = schema.Notional(decimalOr(val).IntPart())
		}
	}
	return l
}

// ParseParams parses adapter parameter blobs, which use the same
// grammar as limits but with newline as the only separator (spec §4.1).
func ParseParams(blob string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(blob, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

type kv struct{ key, val string }

func splitKV(blob string) []kv {
	fields := strings.FieldsFunc(blob, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})
	out := make([]kv, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		out = append(out, kv{key: strings.TrimSpace(k), val: strings.TrimSpace(v)})
	}
	return out
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

func decimalOr(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
