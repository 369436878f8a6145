package refstore

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory ReferenceStore + PositionWriter used by
// tests and by the SimServer external test harness named in spec §1.
type MemoryStore struct {
	mu sync.Mutex

	exchanges   []ExchangeRow
	tickRules   []TickRuleRow
	sessions    []SessionRow
	securities  []SecurityRow
	users       []UserRow
	subAccounts []SubAccountRow
	brokers     []BrokerAccountRow
	userSubMap  []UserSubAccountRow
	subBrokMap  []SubAccountBrokerAccountRow
	positions   []PositionRow
}

// NewMemoryStore returns an empty store; callers populate it with the
// Add* methods before passing it to refdata.Load.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) AddExchange(r ExchangeRow)                    { s.mu.Lock(); defer s.mu.Unlock(); s.exchanges = append(s.exchanges, r) }
func (s *MemoryStore) AddTickRule(r TickRuleRow)                    { s.mu.Lock(); defer s.mu.Unlock(); s.tickRules = append(s.tickRules, r) }
func (s *MemoryStore) AddSession(r SessionRow)                      { s.mu.Lock(); defer s.mu.Unlock(); s.sessions = append(s.sessions, r) }
func (s *MemoryStore) AddSecurity(r SecurityRow)                    { s.mu.Lock(); defer s.mu.Unlock(); s.securities = append(s.securities, r) }
func (s *MemoryStore) AddUser(r UserRow)                            { s.mu.Lock(); defer s.mu.Unlock(); s.users = append(s.users, r) }
func (s *MemoryStore) AddSubAccount(r SubAccountRow)                { s.mu.Lock(); defer s.mu.Unlock(); s.subAccounts = append(s.subAccounts, r) }
func (s *MemoryStore) AddBrokerAccount(r BrokerAccountRow)          { s.mu.Lock(); defer s.mu.Unlock(); s.brokers = append(s.brokers, r) }
func (s *MemoryStore) AddUserSubAccount(r UserSubAccountRow)        { s.mu.Lock(); defer s.mu.Unlock(); s.userSubMap = append(s.userSubMap, r) }
func (s *MemoryStore) AddSubAccountBrokerAccount(r SubAccountBrokerAccountRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subBrokMap = append(s.subBrokMap, r)
}

func (s *MemoryStore) Exchanges() ([]ExchangeRow, error)   { s.mu.Lock(); defer s.mu.Unlock(); return append([]ExchangeRow(nil), s.exchanges...), nil }
func (s *MemoryStore) TickRules() ([]TickRuleRow, error)   { s.mu.Lock(); defer s.mu.Unlock(); return append([]TickRuleRow(nil), s.tickRules...), nil }
func (s *MemoryStore) Sessions() ([]SessionRow, error)     { s.mu.Lock(); defer s.mu.Unlock(); return append([]SessionRow(nil), s.sessions...), nil }
func (s *MemoryStore) Securities() ([]SecurityRow, error)  { s.mu.Lock(); defer s.mu.Unlock(); return append([]SecurityRow(nil), s.securities...), nil }
func (s *MemoryStore) Users() ([]UserRow, error)           { s.mu.Lock(); defer s.mu.Unlock(); return append([]UserRow(nil), s.users...), nil }
func (s *MemoryStore) SubAccounts() ([]SubAccountRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SubAccountRow(nil), s.subAccounts...), nil
}
func (s *MemoryStore) BrokerAccounts() ([]BrokerAccountRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]BrokerAccountRow(nil), s.brokers...), nil
}
func (s *MemoryStore) UserSubAccountMap() ([]UserSubAccountRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]UserSubAccountRow(nil), s.userSubMap...), nil
}
func (s *MemoryStore) SubAccountBrokerAccountMap() ([]SubAccountBrokerAccountRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SubAccountBrokerAccountRow(nil), s.subBrokMap...), nil
}

// LatestPositionsBefore scans the in-memory slice; adequate for tests
// and small SimServer scenarios.
func (s *MemoryStore) LatestPositionsBefore(tm time.Time) ([]PositionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type key struct {
		sub uint32
		sec uint32
	}
	latest := make(map[key]PositionRow)
	for _, r := range s.positions {
		if !r.TimeUTC.Before(tm) {
			continue
		}
		k := key{sub: r.SubAccountID, sec: r.SecurityID}
		if cur, ok := latest[k]; !ok || r.TimeUTC.After(cur.TimeUTC) {
			latest[k] = r
		}
	}
	out := make([]PositionRow, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubAccountID != out[j].SubAccountID {
			return out[i].SubAccountID < out[j].SubAccountID
		}
		return out[i].SecurityID < out[j].SecurityID
	})
	return out, nil
}

// InsertPosition appends a row synchronously; tests don't need the
// asynchronous worker pool the live engine uses.
func (s *MemoryStore) InsertPosition(row PositionRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = append(s.positions, row)
	return nil
}
