package schema

// Confirmation is an execution-report event flowing from the adapter (or
// a synthetic internal source, e.g. RiskRejected) through the journal,
// position engine, algo runtime, and client port (spec §3, §4.3).
type Confirmation struct {
	OrderID       uint64
	ExecType      OrderStatus // reuses the order-status enum, plus RiskRejected/UnconfirmedCancel/CancelRejected
	ExecTransType ExecTransType
	LastShares    Quantity
	LastPrice     Price
	ExecID        string
	Text          string
	TransactTimeUS int64
	Seq           uint64

	// Snapshot fields copied from the order at emission time, so
	// consumers (journal, position engine, client) don't need to look
	// the order back up under a lock.
	AlgoID        uint32
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
	OrigID        uint64
}

// FromOrder builds a Confirmation snapshot from the current order state.
// Callers set ExecType/ExecTransType/LastShares/LastPrice/ExecID/Text
// afterwards.
func FromOrder(o *Order, transactTimeUS int64) Confirmation {
	return Confirmation{
		OrderID:        o.ID,
		OrigID:         o.OrigID,
		AlgoID:         o.AlgoID,
		SubAccountID:   o.SubAccountID,
		BrokerAccount:  o.BrokerAccount,
		UserID:         o.UserID,
		SecurityID:     o.SecurityID,
		Side:           o.Side,
		Type:           o.Type,
		TimeInForce:    o.TimeInForce,
		Qty:            o.Qty,
		Price:          o.Price,
		StopPrice:      o.StopPrice,
		CumQty:         o.CumQty,
		AvgPrice:       o.AvgPrice,
		LeavesQty:      o.LeavesQty,
		TransactTimeUS: transactTimeUS,
	}
}
