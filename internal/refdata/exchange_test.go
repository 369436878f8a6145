package refdata

import (
	"testing"
	"time"

	"github.com/tradecore/engine/internal/schema"
)

func TestExchangeTickSize(t *testing.T) {
	ex := &Exchange{
		FlatTick: 1,
		TickLadder: []TickRule{
			{FromPrice: 0, TickSize: 1},
			{FromPrice: 1000, TickSize: 5},
			{FromPrice: 5000, TickSize: 10},
		},
	}

	testCases := []struct {
		reference schema.Price
		want      schema.Price
	}{
		{0, 1},
		{999, 1},
		{1000, 5},
		{4999, 5},
		{5000, 10},
		{100000, 10},
	}

	for _, tc := range testCases {
		if got := ex.TickSize(tc.reference); got != tc.want {
			t.Fatalf("TickSize(%d): got %d want %d", tc.reference, got, tc.want)
		}
	}
}

func TestExchangeTickSizeFlatFallback(t *testing.T) {
	ex := &Exchange{FlatTick: 25}
	if got := ex.TickSize(999999); got != 25 {
		t.Fatalf("empty ladder should fall back to flat tick: got %d", got)
	}
}

func TestExchangeInTradePeriod(t *testing.T) {
	ex := &Exchange{
		Location:    time.UTC,
		TradeWindow: []Session{{StartSec: 9 * 3600, EndSec: 13*3600 + 30*60}},
		BreakWindow: []Session{{StartSec: 11 * 3600 + 30*60, EndSec: 13 * 3600}},
	}

	testCases := []struct {
		desc string
		at   time.Time
		want bool
	}{
		{"before open", time.Date(2024, 1, 2, 8, 59, 0, 0, time.UTC), false},
		{"in morning session", time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), true},
		{"in lunch break", time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC), false},
		{"in afternoon session", time.Date(2024, 1, 2, 13, 15, 0, 0, time.UTC), true},
		{"after close", time.Date(2024, 1, 2, 13, 31, 0, 0, time.UTC), false},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			if got := ex.InTradePeriod(tc.at); got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestSessionWrapsMidnight(t *testing.T) {
	s := Session{StartSec: 23 * 3600, EndSec: 2 * 3600}
	if !s.contains(23*3600 + 30*60) {
		t.Fatalf("23:30 should be inside a session that wraps midnight")
	}
	if !s.contains(1 * 3600) {
		t.Fatalf("01:00 should be inside a session that wraps midnight")
	}
	if s.contains(12 * 3600) {
		t.Fatalf("noon should be outside a session that wraps midnight")
	}
}
