// Package clientport implements the WebSocket-facing edge of the
// engine (spec §4.9): authenticated per-connection sessions that proxy
// order/algo actions to the connectivity and algo managers, and publish
// market-data/confirmation/algo deltas on a 1-second tick.
package clientport

import "encoding/json"

// Inbound is one decoded client-to-server message. Params stays raw so
// each action's handler decodes only the shape it needs.
type Inbound struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Outbound is one server-to-client message. Tag is one of the wire tags
// from spec §6 (`connection`, `security`, `md`, `order`, `Order`, ...).
type Outbound struct {
	Tag  string `json:"tag"`
	Body any    `json:"body"`
}

type loginParams struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type validateUserParams struct {
	UserID uint32 `json:"user_id"`
}

type subParams struct {
	SecurityID uint32 `json:"security_id"`
}

type unsubParams struct {
	SecurityID uint32 `json:"security_id"`
}

type orderParams struct {
	SubAccountID uint32 `json:"sub_account_id"`
	SecurityID   uint32 `json:"security_id"`
	Side         uint8  `json:"side"`
	Type         uint8  `json:"type"`
	TimeInForce  uint8  `json:"tif"`
	Qty          int64  `json:"qty"`
	Price        int64  `json:"price"`
	StopPrice    int64  `json:"stop_price"`
}

type cancelParams struct {
	OrderID uint64 `json:"order_id"`
}

type algoParams struct {
	Name   string            `json:"name"`
	Token  string            `json:"token"`
	Params map[string]rawAlgoParam `json:"params"`
}

type rawAlgoParam struct {
	Kind  string  `json:"kind"`
	Bool  bool    `json:"bool,omitempty"`
	Int   int64   `json:"int,omitempty"`
	Float float64 `json:"float,omitempty"`
	Str   string  `json:"str,omitempty"`
}

type algoCancelParams struct {
	AlgoID uint32 `json:"algo_id"`
}

type offlineParams struct {
	SeqConfirmation uint64 `json:"seq_confirmation"`
	SeqAlgo         uint64 `json:"seq_algo"`
}

type errorBody struct {
	Action string `json:"action"`
	Text   string `json:"text"`
}

type connectionBody struct {
	UserID uint32 `json:"user_id"`
	Admin  bool   `json:"admin"`
}

// mdDelta is one `md` message body element: [security_id, {changed
// fields}], with the keys deltaFields produces (`close`, `volume`,
// `a0..a4`, `b0..b4`).
type mdDelta struct {
	SecurityID uint32         `json:"security_id"`
	Fields     map[string]int64 `json:"fields"`
}
