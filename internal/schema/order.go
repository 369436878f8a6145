package schema

// Side is the direction of an order.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	case SideShort:
		return "short"
	default:
		return "unknown"
	}
}

// OrderType enumerates the supported order types.
type OrderType uint8

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
	OrderTypeStop
	OrderTypeStopLimit
	OrderTypeOTC
)

// TimeInForce enumerates supported time-in-force values.
type TimeInForce uint8

const (
	TimeInForceUnknown TimeInForce = iota
	TimeInForceDay
	TimeInForceGTC
	TimeInForceOPG
	TimeInForceIOC
	TimeInForceFOK
	TimeInForceGTX
)

// OrderStatus is the order lifecycle state (spec §4.3). The same symbols
// double as Confirmation.ExecType values, plus two exec-only entries
// (RiskRejected, CancelRejected) that never appear as a resting order's
// Status.
type OrderStatus uint8

const (
	StatusUnknown OrderStatus = iota
	StatusUnconfirmedNew
	StatusPendingNew
	StatusNew
	StatusPartiallyFilled
	StatusFilled
	StatusRejected
	StatusCanceled
	StatusExpired
	StatusCalculated
	StatusDoneForDay
	StatusUnconfirmedCancel
	StatusPendingCancel
	StatusReplace // recognised, never completed — see DESIGN.md Open Question
	StatusRiskRejected
	StatusCancelRejected
)

func (s OrderStatus) String() string {
	switch s {
	case StatusUnconfirmedNew:
		return "UnconfirmedNew"
	case StatusPendingNew:
		return "PendingNew"
	case StatusNew:
		return "New"
	case StatusPartiallyFilled:
		return "PartiallyFilled"
	case StatusFilled:
		return "Filled"
	case StatusRejected:
		return "Rejected"
	case StatusCanceled:
		return "Canceled"
	case StatusExpired:
		return "Expired"
	case StatusCalculated:
		return "Calculated"
	case StatusDoneForDay:
		return "DoneForDay"
	case StatusUnconfirmedCancel:
		return "UnconfirmedCancel"
	case StatusPendingCancel:
		return "PendingCancel"
	case StatusReplace:
		return "Replace"
	case StatusRiskRejected:
		return "RiskRejected"
	case StatusCancelRejected:
		return "CancelRejected"
	default:
		return "Unknown"
	}
}

// IsLive reports whether an order in this status can still receive fills
// or cancels (spec §3 life-phase test).
func (s OrderStatus) IsLive() bool {
	switch s {
	case StatusUnconfirmedNew, StatusPendingNew, StatusNew, StatusPartiallyFilled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status ends the order's lifecycle.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusRejected, StatusCanceled, StatusExpired,
		StatusCalculated, StatusDoneForDay, StatusRiskRejected:
		return true
	default:
		return false
	}
}

// ExecTransType describes whether a confirmation applies or reverses a
// fill.
type ExecTransType uint8

const (
	ExecTransUnknown ExecTransType = iota
	ExecTransNew
	ExecTransCancel
	ExecTransCorrect
)

func (t ExecTransType) String() string {
	switch t {
	case ExecTransNew:
		return "new"
	case ExecTransCancel:
		return "cancel"
	case ExecTransCorrect:
		return "correct"
	default:
		return "unknown"
	}
}

// Order is the order-book's authoritative record for one client order id.
// Field names mirror spec §3 exactly.
type Order struct {
	ID            uint64
	OrigID        uint64 // 0 unless this is a cancel-reference
	AlgoID        uint32 // 0 if not algo-owned
	SubAccountID  uint32
	BrokerAccount uint32
	UserID        uint32
	SecurityID    uint32
	Side          Side
	Type          OrderType
	TimeInForce   TimeInForce
	Qty           Quantity
	Price         Price
	StopPrice     Price
	CumQty        Quantity
	AvgPrice      Price
	LeavesQty     Quantity
	Status        OrderStatus
	CreatedAtUS   int64 // microseconds UTC
}

// IsLive reports whether the order can still receive fills or cancels.
func (o *Order) IsLive() bool {
	return o.Status.IsLive()
}

// Clone returns a shallow copy — orders are small value types, so a
// struct copy is a full copy.
func (o *Order) Clone() *Order {
	cp := *o
	return &cp
}
