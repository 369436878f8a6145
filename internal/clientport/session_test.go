package clientport

import (
	"testing"

	"github.com/tradecore/engine/internal/algo"
	"github.com/tradecore/engine/internal/schema"
)

func TestDeltaFieldsOnlyReportsChanges(t *testing.T) {
	prev := schema.MarketData{Trade: schema.Trade{Close: 100}}
	cur := prev
	cur.Trade.Close = 105
	cur.Depth[0].BidPrice = 99

	fields := deltaFields(prev, cur)
	if fields["close"] != 105 {
		t.Fatalf("expected close=105, got %v", fields["close"])
	}
	if fields["b0"] != 99 {
		t.Fatalf("expected b0=99, got %v", fields["b0"])
	}
	if _, ok := fields["volume"]; ok {
		t.Fatalf("volume unchanged, should not appear")
	}
}

func TestDeltaFieldsNoChangeIsEmpty(t *testing.T) {
	md := schema.MarketData{Trade: schema.Trade{Close: 50}}
	if fields := deltaFields(md, md); len(fields) != 0 {
		t.Fatalf("expected no fields for identical snapshots, got %v", fields)
	}
}

func TestDecodeParamKinds(t *testing.T) {
	cases := []struct {
		raw  rawAlgoParam
		kind algo.ParamKind
	}{
		{rawAlgoParam{Kind: "bool", Bool: true}, algo.ParamBool},
		{rawAlgoParam{Kind: "int", Int: 5}, algo.ParamInt},
		{rawAlgoParam{Kind: "float", Float: 1.5}, algo.ParamFloat},
		{rawAlgoParam{Kind: "string", Str: "x"}, algo.ParamString},
	}
	for _, c := range cases {
		v := decodeParam(c.raw)
		if v.Kind != c.kind {
			t.Fatalf("decodeParam(%+v) kind = %v, want %v", c.raw, v.Kind, c.kind)
		}
	}
}
