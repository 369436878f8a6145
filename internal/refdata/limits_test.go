package refdata

import "testing"

func TestParseLimits(t *testing.T) {
	testCases := []struct {
		desc     string
		input    string
		expected Limits
	}{
		{
			"comma separated",
			"msg_rate=10,order_qty=500,value=1000000",
			Limits{MsgRate: 10, OrderQty: 500, Value: 1000000},
		},
		{
			"newline and semicolon mixed",
			"msg_rate=5\nmsg_rate_per_security=2;order_value=2500",
			Limits{MsgRate: 5, MsgRatePerSecurity: 2, OrderValue: 2500},
		},
		{
			"unknown keys ignored",
			"msg_rate=10,bogus=999,turnover=42",
			Limits{MsgRate: 10, Turnover: 42},
		},
		{
			"empty blob",
			"",
			Limits{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			got := ParseLimits(tc.input)
			if got != tc.expected {
				t.Fatalf("got %+v want %+v", got, tc.expected)
			}
		})
	}
}

func TestParseParams(t *testing.T) {
	got := ParseParams("host=127.0.0.1\nport=9000\n\nuser = trader\n")
	want := map[string]string{"host": "127.0.0.1", "port": "9000", "user": "trader"}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %+v want %+v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("key %s: got %q want %q", k, got[k], v)
		}
	}
}
