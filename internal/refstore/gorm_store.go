package refstore

import (
	"time"

	"gorm.io/gorm"
)

// These model types are the GORM-mapped mirror of the row types above.
// They are kept separate from the port's Row types so the port itself
// never depends on GORM tags — only this adapter does.

type exchangeModel struct {
	ID         uint32 `gorm:"primaryKey"`
	Name       string
	TZName     string
	UTCOffsetS int
	OddLot     uint8
}

func (exchangeModel) TableName() string { return "exchanges" }

type tickRuleModel struct {
	ExchangeID uint32 `gorm:"index"`
	FromPrice  int64
	TickSize   int64
}

func (tickRuleModel) TableName() string { return "tick_rules" }

type sessionModel struct {
	ExchangeID uint32 `gorm:"index"`
	Kind       string
	StartSec   int
	EndSec     int
}

func (sessionModel) TableName() string { return "sessions" }

type securityModel struct {
	ID           uint32 `gorm:"primaryKey"`
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

func (securityModel) TableName() string { return "securities" }

type userModel struct {
	ID           uint32 `gorm:"primaryKey"`
	Name         string
	PasswordHash []byte
	Admin        bool
	Disabled     bool
	LimitsBlob   string
}

func (userModel) TableName() string { return "users" }

type subAccountModel struct {
	ID         uint32 `gorm:"primaryKey"`
	LimitsBlob string
}

func (subAccountModel) TableName() string { return "sub_accounts" }

type brokerAccountModel struct {
	ID          uint32 `gorm:"primaryKey"`
	AdapterName string
	Handle      string
	ParamsBlob  string
	LimitsBlob  string
}

func (brokerAccountModel) TableName() string { return "broker_accounts" }

type userSubAccountModel struct {
	UserID       uint32 `gorm:"index"`
	SubAccountID uint32 `gorm:"index"`
}

func (userSubAccountModel) TableName() string { return "user_sub_accounts" }

type subAccountBrokerAccountModel struct {
	SubAccountID    uint32 `gorm:"index"`
	ExchangeID      uint32
	BrokerAccountID uint32
}

func (subAccountBrokerAccountModel) TableName() string { return "sub_account_broker_accounts" }

type positionModel struct {
	UserID          uint32 `gorm:"index"`
	SubAccountID    uint32 `gorm:"index"`
	SecurityID      uint32 `gorm:"index"`
	BrokerAccountID uint32
	Qty             int64
	AvgPrice        int64
	RealizedPnL     int64
	TimeUTC         time.Time `gorm:"index"`
	Desc            string
}

func (positionModel) TableName() string { return "positions" }

// GormStore implements ReferenceStore and PositionWriter over a GORM
// connection, following the connection-pool-and-prepared-statement style
// the corpus uses for its own persistence layers (grounded on
// tathienbao-quant-bot's internal/persistence and the teacher's declared
// but previously-unused gorm.io/gorm + gorm.io/driver/postgres deps).
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an already-opened *gorm.DB. AutoMigrate is left to
// the caller (see ops.Load / --db_create_tables in cmd/tradecore).
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates/updates all reference tables. Called when
// --db_create_tables is set.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(
		&exchangeModel{}, &tickRuleModel{}, &sessionModel{}, &securityModel{},
		&userModel{}, &subAccountModel{}, &brokerAccountModel{},
		&userSubAccountModel{}, &subAccountBrokerAccountModel{}, &positionModel{},
	)
}

func (s *GormStore) Exchanges() ([]ExchangeRow, error) {
	var rows []exchangeModel
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ExchangeRow, len(rows))
	for i, r := range rows {
		out[i] = ExchangeRow{ID: r.ID, Name: r.Name, TZName: r.TZName, UTCOffsetS: r.UTCOffsetS, OddLot: r.OddLot}
	}
	return out, nil
}

func (s *GormStore) TickRules() ([]TickRuleRow, error) {
	var rows []tickRuleModel
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]TickRuleRow, len(rows))
	for i, r := range rows {
		out[i] = TickRuleRow{ExchangeID: r.ExchangeID, FromPrice: r.FromPrice, TickSize: r.TickSize}
	}
	return out, nil
}

func (s *GormStore) Sessions() ([]SessionRow, error) {
	var rows []sessionModel
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]SessionRow, len(rows))
	for i, r := range rows {
		out[i] = SessionRow{ExchangeID: r.ExchangeID, Kind: r.Kind, StartSec: r.StartSec, EndSec: r.EndSec}
	}
	return out, nil
}

func (s *GormStore) Securities() ([]SecurityRow, error) {
	var rows []securityModel
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]SecurityRow, len(rows))
	for i, r := range rows {
		out[i] = SecurityRow{
			ID: r.ID, Symbol: r.Symbol, ExchangeID: r.ExchangeID, Type: r.Type,
			Currency: r.Currency, Multiplier: r.Multiplier, CurrencyRate: r.CurrencyRate,
			FlatTick: r.FlatTick, LotSize: r.LotSize, ClosePrice: r.ClosePrice,
			Underlying: r.Underlying, Strike: r.Strike, IsCall: r.IsCall, ExpiryEpoch: r.ExpiryEpoch,
		}
	}
	return out, nil
}

func (s *GormStore) Users() ([]UserRow, error) {
	var rows []userModel
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]UserRow, len(rows))
	for i, r := range rows {
		var hash [20]byte
		copy(hash[:], r.PasswordHash)
		out[i] = UserRow{ID: r.ID, Name: r.Name, PasswordHash: hash, Admin: r.Admin, Disabled: r.Disabled, LimitsBlob: r.LimitsBlob}
	}
	return out, nil
}

func (s *GormStore) SubAccounts() ([]SubAccountRow, error) {
	var rows []subAccountModel
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]SubAccountRow, len(rows))
	for i, r := range rows {
		out[i] = SubAccountRow{ID: r.ID, LimitsBlob: r.LimitsBlob}
	}
	return out, nil
}

func (s *GormStore) BrokerAccounts() ([]BrokerAccountRow, error) {
	var rows []brokerAccountModel
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]BrokerAccountRow, len(rows))
	for i, r := range rows {
		out[i] = BrokerAccountRow{ID: r.ID, AdapterName: r.AdapterName, Handle: r.Handle, ParamsBlob: r.ParamsBlob, LimitsBlob: r.LimitsBlob}
	}
	return out, nil
}

func (s *GormStore) UserSubAccountMap() ([]UserSubAccountRow, error) {
	var rows []userSubAccountModel
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]UserSubAccountRow, len(rows))
	for i, r := range rows {
		out[i] = UserSubAccountRow{UserID: r.UserID, SubAccountID: r.SubAccountID}
	}
	return out, nil
}

func (s *GormStore) SubAccountBrokerAccountMap() ([]SubAccountBrokerAccountRow, error) {
	var rows []subAccountBrokerAccountModel
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]SubAccountBrokerAccountRow, len(rows))
	for i, r := range rows {
		out[i] = SubAccountBrokerAccountRow{SubAccountID: r.SubAccountID, ExchangeID: r.ExchangeID, BrokerAccountID: r.BrokerAccountID}
	}
	return out, nil
}

// LatestPositionsBefore returns the latest row per (sub_account,
// security) strictly before tm, using a correlated subquery so the
// filtering happens in the database rather than in Go.
func (s *GormStore) LatestPositionsBefore(tm time.Time) ([]PositionRow, error) {
	var rows []positionModel
	sub := s.db.Model(&positionModel{}).
		Select("MAX(time_utc)").
		Where("time_utc < ?", tm).
		Where("sub_account_id = positions.sub_account_id AND security_id = positions.security_id")
	err := s.db.Where("time_utc < ?", tm).
		Where("time_utc = (?)", sub).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]PositionRow, len(rows))
	for i, r := range rows {
		out[i] = PositionRow{
			UserID: r.UserID, SubAccountID: r.SubAccountID, SecurityID: r.SecurityID,
			BrokerAccountID: r.BrokerAccountID, Qty: r.Qty, AvgPrice: r.AvgPrice,
			RealizedPnL: r.RealizedPnL, TimeUTC: r.TimeUTC, Desc: r.Desc,
		}
	}
	return out, nil
}

// InsertPosition appends a position row (spec §6 write port). The
// position engine calls this from its own dedicated single-worker pool
// (spec §5), so no additional locking is needed here.
func (s *GormStore) InsertPosition(row PositionRow) error {
	m := positionModel{
		UserID: row.UserID, SubAccountID: row.SubAccountID, SecurityID: row.SecurityID,
		BrokerAccountID: row.BrokerAccountID, Qty: row.Qty, AvgPrice: row.AvgPrice,
		RealizedPnL: row.RealizedPnL, TimeUTC: row.TimeUTC, Desc: row.Desc,
	}
	return s.db.Create(&m).Error
}
