package refdata

import (
	"crypto/sha1"
	"fmt"
	"time"

	"github.com/yanun0323/errors"

	"github.com/tradecore/engine/internal/refstore"
	"github.com/tradecore/engine/internal/schema"
)

// nowFunc is overridden in tests to make session-window checks
// deterministic.
var nowFunc = time.Now

// Cache is the immutable reference-data snapshot built once at startup
// (spec §3, §4.1). Every lookup after Load is a plain map read: nothing
// under this type is mutated again during the process's lifetime, only
// the PositionValue/Throttle counters embedded in the account types.
type Cache struct {
	exchanges      map[uint32]*Exchange
	securities     map[uint32]*Security
	symbolIndex    map[string]uint32
	users          map[uint32]*User
	usersByName    map[string]uint32
	subAccounts    map[uint32]*SubAccount
	brokerAccounts map[uint32]*BrokerAccount
	userSubAccts   map[uint32]map[uint32]struct{}
	checksum       [sha1.Size]byte
}

// Load builds a Cache from a ReferenceStore snapshot, wiring PriceSource
// into every Security so CurrentPrice() can resolve through the
// market-data hub once one is attached (see SetPriceSource).
func Load(store refstore.ReferenceStore) (*Cache, error) {
	exRows, err := store.Exchanges()
	if err != nil {
		return nil, errors.Wrap(err, "load exchanges")
	}
	tickRows, err := store.TickRules()
	if err != nil {
		return nil, errors.Wrap(err, "load tick rules")
	}
	sessRows, err := store.Sessions()
	if err != nil {
		return nil, errors.Wrap(err, "load sessions")
	}
	secRows, err := store.Securities()
	if err != nil {
		return nil, errors.Wrap(err, "load securities")
	}
	userRows, err := store.Users()
	if err != nil {
		return nil, errors.Wrap(err, "load users")
	}
	subRows, err := store.SubAccounts()
	if err != nil {
		return nil, errors.Wrap(err, "load sub accounts")
	}
	brokerRows, err := store.BrokerAccounts()
	if err != nil {
		return nil, errors.Wrap(err, "load broker accounts")
	}
	userSubRows, err := store.UserSubAccountMap()
	if err != nil {
		return nil, errors.Wrap(err, "load user sub account map")
	}
	subBrokerRows, err := store.SubAccountBrokerAccountMap()
	if err != nil {
		return nil, errors.Wrap(err, "load sub account broker account map")
	}

	c := &Cache{
		exchanges:      make(map[uint32]*Exchange, len(exRows)),
		securities:     make(map[uint32]*Security, len(secRows)),
		symbolIndex:    make(map[string]uint32, len(secRows)),
		users:          make(map[uint32]*User, len(userRows)),
		usersByName:    make(map[string]uint32, len(userRows)),
		subAccounts:    make(map[uint32]*SubAccount, len(subRows)),
		brokerAccounts: make(map[uint32]*BrokerAccount, len(brokerRows)),
		userSubAccts:   make(map[uint32]map[uint32]struct{}, len(userRows)),
	}

	for _, r := range exRows {
		loc, err := time.LoadLocation(r.TZName)
		if err != nil {
			loc = time.FixedZone(r.TZName, r.UTCOffsetS)
		}
		c.exchanges[r.ID] = &Exchange{
			ID:         r.ID,
			Name:       r.Name,
			Location:   loc,
			UTCOffsetS: r.UTCOffsetS,
			OddLot:     OddLotPolicy(r.OddLot),
		}
	}
	for _, r := range tickRows {
		ex, ok := c.exchanges[r.ExchangeID]
		if !ok {
			continue
		}
		ex.TickLadder = append(ex.TickLadder, TickRule{
			FromPrice: schema.Price(r.FromPrice),
			TickSize:  schema.Price(r.TickSize),
		})
	}
	for id, ex := range c.exchanges {
		sortTickLadder(ex.TickLadder)
		_ = id
	}
	for _, r := range sessRows {
		ex, ok := c.exchanges[r.ExchangeID]
		if !ok {
			continue
		}
		s := Session{StartSec: r.StartSec, EndSec: r.EndSec}
		switch r.Kind {
		case "break":
			ex.BreakWindow = append(ex.BreakWindow, s)
		default:
			ex.TradeWindow = append(ex.TradeWindow, s)
		}
	}

	h := sha1.New()
	for _, r := range secRows {
		ex := c.exchanges[r.ExchangeID]
		sec := &Security{
			ID:           r.ID,
			Symbol:       r.Symbol,
			ExchangeID:   r.ExchangeID,
			Type:         SecurityType(r.Type),
			Currency:     r.Currency,
			Multiplier:   r.Multiplier,
			CurrencyRate: r.CurrencyRate,
			FlatTick:     schema.Price(r.FlatTick),
			LotSize:      r.LotSize,
			ClosePrice:   schema.Price(r.ClosePrice),
			Underlying:   r.Underlying,
			Strike:       schema.Price(r.Strike),
			IsCall:       r.IsCall,
			Expiry:       r.ExpiryEpoch,
			exchange:     ex,
		}
		c.securities[r.ID] = sec
		c.symbolIndex[r.Symbol] = r.ID

		exName := ""
		if ex != nil {
			exName = ex.Name
		}
		fmt.Fprintf(h, "%d|%s|%s|%d|%d|%d;", r.ID, r.Symbol, exName, r.Type, r.LotSize, r.Multiplier)
	}
	sum := h.Sum(nil)
	copy(c.checksum[:], sum)

	for _, r := range userRows {
		c.users[r.ID] = &User{
			ID:           r.ID,
			Name:         r.Name,
			PasswordHash: r.PasswordHash,
			Admin:        r.Admin,
			Disabled:     r.Disabled,
			SubAccounts:  make(map[uint32]struct{}),
			Limits:       ParseLimits(r.LimitsBlob),
		}
		c.usersByName[r.Name] = r.ID
		c.userSubAccts[r.ID] = make(map[uint32]struct{})
	}
	for _, r := range subRows {
		c.subAccounts[r.ID] = &SubAccount{
			ID:             r.ID,
			Limits:         ParseLimits(r.LimitsBlob),
			BrokerAccounts: make(map[uint32]uint32),
		}
	}
	for _, r := range brokerRows {
		c.brokerAccounts[r.ID] = &BrokerAccount{
			ID:          r.ID,
			AdapterName: r.AdapterName,
			Handle:      r.Handle,
			Params:      ParseParams(r.ParamsBlob),
			Limits:      ParseLimits(r.LimitsBlob),
		}
	}
	for _, r := range userSubRows {
		if u, ok := c.users[r.UserID]; ok {
			u.SubAccounts[r.SubAccountID] = struct{}{}
		}
		if _, ok := c.userSubAccts[r.UserID]; ok {
			c.userSubAccts[r.UserID][r.SubAccountID] = struct{}{}
		}
	}
	for _, r := range subBrokerRows {
		if sa, ok := c.subAccounts[r.SubAccountID]; ok {
			sa.BrokerAccounts[r.ExchangeID] = r.BrokerAccountID
		}
	}

	return c, nil
}

func sortTickLadder(rules []TickRule) {
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && rules[j-1].FromPrice > rules[j].FromPrice; j-- {
			rules[j-1], rules[j] = rules[j], rules[j-1]
		}
	}
}

// SetPriceSource wires the market-data hub into every security so
// CurrentPrice() can resolve live prices. Called once during startup
// wiring, after both refdata.Load and the hub are constructed.
func (c *Cache) SetPriceSource(src PriceSource) {
	for _, sec := range c.securities {
		sec.prices = src
	}
}

// Checksum returns the SHA-1 digest over (id, symbol, exchange name,
// type, lot_size, multiplier) for every security, in load order — the
// reference-set fingerprint clients can compare against (spec §4.1).
func (c *Cache) Checksum() [sha1.Size]byte { return c.checksum }

func (c *Cache) Security(id uint32) (*Security, bool) {
	s, ok := c.securities[id]
	return s, ok
}

func (c *Cache) SecurityBySymbol(symbol string) (*Security, bool) {
	id, ok := c.symbolIndex[symbol]
	if !ok {
		return nil, false
	}
	return c.securities[id], true
}

func (c *Cache) Exchange(id uint32) (*Exchange, bool) {
	e, ok := c.exchanges[id]
	return e, ok
}

func (c *Cache) User(id uint32) (*User, bool) {
	u, ok := c.users[id]
	return u, ok
}

func (c *Cache) UserByName(name string) (*User, bool) {
	id, ok := c.usersByName[name]
	if !ok {
		return nil, false
	}
	return c.users[id], true
}

func (c *Cache) SubAccount(id uint32) (*SubAccount, bool) {
	sa, ok := c.subAccounts[id]
	return sa, ok
}

func (c *Cache) BrokerAccount(id uint32) (*BrokerAccount, bool) {
	ba, ok := c.brokerAccounts[id]
	return ba, ok
}

// UserCanAccess reports whether user may route orders through
// sub-account, per the permissioning map loaded from the reference
// store (spec §4.4 permission check).
func (c *Cache) UserCanAccess(userID, subAccountID uint32) bool {
	set, ok := c.userSubAccts[userID]
	if !ok {
		return false
	}
	_, ok = set[subAccountID]
	return ok
}

// AllSecurities returns every loaded security, for client snapshot
// bootstrap (spec §4.9 "securities" action).
func (c *Cache) AllSecurities() []*Security {
	out := make([]*Security, 0, len(c.securities))
	for _, s := range c.securities {
		out = append(out, s)
	}
	return out
}
