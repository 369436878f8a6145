// Package refstore defines the ReferenceStore read/write port (spec §6)
// and a GORM-backed implementation over Postgres, plus an in-memory fake
// for tests. The relational store of static reference data is explicitly
// out of scope for this engine (spec §1) — this package only specifies
// the port and one acceptable instantiation of it, as the spec permits.
package refstore

import "time"

// ExchangeRow mirrors one row from the exchanges table.
type ExchangeRow struct {
	ID         uint32
	Name       string
	TZName     string
	UTCOffsetS int
	OddLot     uint8
}

// TickRuleRow mirrors one row of an exchange's tick-size ladder.
type TickRuleRow struct {
	ExchangeID uint32
	FromPrice  int64
	TickSize   int64
}

// SessionRow mirrors one trade/break window row.
type SessionRow struct {
	ExchangeID uint32
	Kind       string // "trade" or "break"
	StartSec   int
	EndSec     int
}

// SecurityRow mirrors one row from the securities table.
type SecurityRow struct {
	ID           uint32
	Symbol       string
	ExchangeID   uint32
	Type         uint8
	Currency     string
	Multiplier   int64
	CurrencyRate float64
	FlatTick     int64
	LotSize      int64
	ClosePrice   int64
	Underlying   uint32
	Strike       int64
	IsCall       bool
	ExpiryEpoch  int64
}

// UserRow mirrors one row from the users table.
type UserRow struct {
	ID           uint32
	Name         string
	PasswordHash [20]byte
	Admin        bool
	Disabled     bool
	LimitsBlob   string
}

// SubAccountRow mirrors one row from the sub_accounts table.
type SubAccountRow struct {
	ID         uint32
	LimitsBlob string
}

// BrokerAccountRow mirrors one row from the broker_accounts table.
type BrokerAccountRow struct {
	ID          uint32
	AdapterName string
	Handle      string
	ParamsBlob  string
	LimitsBlob  string
}

// UserSubAccountRow mirrors the user<->sub-account permissioning edge.
type UserSubAccountRow struct {
	UserID       uint32
	SubAccountID uint32
}

// SubAccountBrokerAccountRow mirrors the sub-account<->broker-account
// routing edge, keyed by exchange (0 = default).
type SubAccountBrokerAccountRow struct {
	SubAccountID    uint32
	ExchangeID      uint32 // 0 = default
	BrokerAccountID uint32
}

// PositionRow is one persisted position snapshot (spec §6 write port).
type PositionRow struct {
	UserID          uint32
	SubAccountID    uint32
	SecurityID      uint32
	BrokerAccountID uint32
	Qty             int64
	AvgPrice        int64
	RealizedPnL     int64
	TimeUTC         time.Time
	Desc            string
}

// ReferenceStore is the read port: everything the reference cache needs
// to bootstrap once at startup, and everything the position engine needs
// to seed beginning-of-day state (spec §6).
type ReferenceStore interface {
	Exchanges() ([]ExchangeRow, error)
	TickRules() ([]TickRuleRow, error)
	Sessions() ([]SessionRow, error)
	Securities() ([]SecurityRow, error)
	Users() ([]UserRow, error)
	SubAccounts() ([]SubAccountRow, error)
	BrokerAccounts() ([]BrokerAccountRow, error)
	UserSubAccountMap() ([]UserSubAccountRow, error)
	SubAccountBrokerAccountMap() ([]SubAccountBrokerAccountRow, error)
	// LatestPositionsBefore returns, for every (sub_account, security)
	// pair, the most recent row strictly before tm.
	LatestPositionsBefore(tm time.Time) ([]PositionRow, error)
}

// PositionWriter is the write port used by the position engine's
// asynchronous persistence worker (spec §4.6, §6).
type PositionWriter interface {
	InsertPosition(row PositionRow) error
}
