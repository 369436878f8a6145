package position

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yanun0323/logs"
)

const markToMarketInterval = 5 * time.Second

// pnlWriter appends "<epoch> <realized> <unrealized>" lines to one
// sub-account's P&L file, skipping writes that don't move the total by
// at least one numeraire unit (spec §4.6 mark-to-market task).
type pnlWriter struct {
	mu       sync.Mutex
	path     string
	lastReal int64
	lastUnr  int64
	init     bool
}

func (w *pnlWriter) writeIfChanged(epoch, realized, unrealized int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.init && absInt64(realized-w.lastReal)+absInt64(unrealized-w.lastUnr) < 1 {
		return
	}
	w.lastReal, w.lastUnr, w.init = realized, unrealized, true

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logs.Errorf("position: open pnl file %s: %+v", w.path, err)
		return
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%d %d %d\n", epoch, realized, unrealized); err != nil {
		logs.Errorf("position: write pnl file %s: %+v", w.path, err)
	}
}

// MarkToMarketLoop runs the periodic 5-second recompute (spec §4.6):
// every sub-account Position's unrealized_pnl is refreshed against the current
// price, then per-sub-account totals are appended to that sub-account's
// P&L file when they moved by at least one unit. Runs until ctx is
// canceled.
func (e *Engine) MarkToMarketLoop(ctx context.Context, pnlDir string) {
	writers := make(map[uint32]*pnlWriter)
	ticker := time.NewTicker(markToMarketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.markToMarketTick(pnlDir, writers)
		}
	}
}

func (e *Engine) markToMarketTick(pnlDir string, writers map[uint32]*pnlWriter) {
	e.mu.RLock()
	entries := make([]struct {
		key posKey
		pos *Position
	}, 0, len(e.subAccount))
	for k, p := range e.subAccount {
		entries = append(entries, struct {
			key posKey
			pos *Position
		}{k, p})
	}
	e.mu.RUnlock()

	for _, entry := range entries {
		sec, ok := e.cache.Security(entry.key.security)
		if !ok {
			continue
		}
		price := sec.CurrentPrice()
		if price == 0 {
			continue
		}
		entry.pos.MarkToMarket(int64(price), sec.Multiplier)
	}

	epoch := time.Now().Unix()
	totals := make(map[uint32][2]int64) // subAccountID -> [realized, unrealized]
	for _, entry := range entries {
		snap := entry.pos.Snapshot()
		t := totals[entry.key.entity]
		t[0] += snap.RealizedPnL
		t[1] += snap.UnrealizedPnL
		totals[entry.key.entity] = t
	}

	for subID, t := range totals {
		w, ok := writers[subID]
		if !ok {
			w = &pnlWriter{path: filepath.Join(pnlDir, fmt.Sprintf("pnl-%d.log", subID))}
			writers[subID] = w
		}
		w.writeIfChanged(epoch, t[0], t[1])
	}
}
