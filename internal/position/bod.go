package position

import (
	"encoding/json"
	"os"
	"time"

	"github.com/yanun0323/errors"

	"github.com/tradecore/engine/internal/refstore"
)

// sessionState is the persisted BoD boundary (spec §4.6 "restart within
// the day reuses the same beginning-of-day snapshot"). Written once per
// calendar day, in UTC, on first boot.
type sessionState struct {
	Boundary time.Time `json:"boundary"`
}

func sameUTCDate(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	ya, ma, da := a.Date()
	yb, mb, db := b.Date()
	return ya == yb && ma == mb && da == db
}

// loadOrInitSession returns today's BoD boundary. If a session file
// already records today's boundary it's reused verbatim — a restart
// later in the day must not roll the boundary forward past the trades
// already booked since the first boot. Otherwise a fresh boundary
// (midnight UTC) is computed and persisted.
func loadOrInitSession(path string, now time.Time) (time.Time, error) {
	if data, err := os.ReadFile(path); err == nil {
		var s sessionState
		if jsonErr := json.Unmarshal(data, &s); jsonErr == nil && sameUTCDate(s.Boundary, now) {
			return s.Boundary, nil
		}
	} else if !os.IsNotExist(err) {
		return time.Time{}, errors.Wrap(err, "read session file")
	}

	boundary := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	buf, err := json.Marshal(sessionState{Boundary: boundary})
	if err != nil {
		return time.Time{}, errors.Wrap(err, "marshal session state")
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return time.Time{}, errors.Wrap(err, "write session file")
	}
	return boundary, nil
}

// SeedBeginningOfDay loads the BoD boundary from sessionPath (creating it
// on first boot of the day) and seeds every entity-level Position from
// the reference store's last snapshot strictly before that boundary
// (spec §4.6). Called once at startup, before the book starts accepting
// confirmations.
func (e *Engine) SeedBeginningOfDay(store refstore.ReferenceStore, sessionPath string, now time.Time) error {
	boundary, err := loadOrInitSession(sessionPath, now)
	if err != nil {
		return err
	}
	rows, err := store.LatestPositionsBefore(boundary)
	if err != nil {
		return errors.Wrap(err, "load latest positions")
	}
	for _, row := range rows {
		e.SubAccountPosition(row.SubAccountID, row.SecurityID).Seed(row.Qty, row.AvgPrice, row.RealizedPnL)
		e.BrokerAccountPosition(row.BrokerAccountID, row.SecurityID).Seed(row.Qty, row.AvgPrice, row.RealizedPnL)
		e.UserPosition(row.UserID, row.SecurityID).Seed(row.Qty, row.AvgPrice, row.RealizedPnL)
	}
	return nil
}
