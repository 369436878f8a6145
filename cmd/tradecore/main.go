// Command tradecore is the trading engine process: it loads reference
// data, brings up the order book, position engine, risk checker,
// connectivity manager, algo runtime, and client port, then serves
// until an admin shutdown or signal.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tradecore/engine/internal/algo"
	"github.com/tradecore/engine/internal/clientport"
	"github.com/tradecore/engine/internal/connectivity"
	"github.com/tradecore/engine/internal/marketdata"
	"github.com/tradecore/engine/internal/obs"
	"github.com/tradecore/engine/internal/ops"
	"github.com/tradecore/engine/internal/orderbook"
	"github.com/tradecore/engine/internal/position"
	"github.com/tradecore/engine/internal/refdata"
	"github.com/tradecore/engine/internal/refstore"
	"github.com/tradecore/engine/internal/risk"
	"github.com/tradecore/engine/internal/simadapter"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags, err := ops.ParseFlags(os.Args[1:])
	if err != nil {
		logs.Errorf("tradecore: flag parse failed: %+v", err)
		return ops.ExitFail
	}
	cfg, err := ops.Load(flags)
	if err != nil {
		logs.Errorf("tradecore: %+v", err)
		return ops.ExitFail
	}

	db, err := openDB(cfg)
	if err != nil {
		logs.Errorf("tradecore: db open failed: %+v", err)
		return ops.ExitFail
	}
	store := refstore.NewGormStore(db)
	if cfg.DBCreateTables {
		if err := store.AutoMigrate(); err != nil {
			logs.Errorf("tradecore: auto-migrate failed: %+v", err)
			return ops.ExitFail
		}
	}

	cache, err := refdata.Load(store)
	if err != nil {
		logs.Errorf("tradecore: reference data load failed: %+v", err)
		return ops.ExitFail
	}
	logs.Infof("tradecore: reference cache loaded, checksum %x", cache.Checksum())

	metrics := obs.NewMetrics()

	if cfg.PyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "tradecore",
			ServerAddress:   cfg.PyroscopeAddr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logs.Errorf("tradecore: pyroscope start failed: %+v", err)
		} else {
			defer profiler.Stop()
		}
	}

	journal, err := orderbook.NewJournalWriter(orderbook.DefaultConfirmationJournalConfig("./data/journal"))
	if err != nil {
		logs.Errorf("tradecore: journal open failed: %+v", err)
		return ops.ExitFail
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := journal.Start(ctx); err != nil {
		logs.Errorf("tradecore: journal start failed: %+v", err)
		return ops.ExitFail
	}
	defer journal.Close()

	positions := position.NewEngine(cache, store)
	if err := positions.SeedBeginningOfDay(store, cfg.SessionFile, time.Now().UTC()); err != nil {
		logs.Errorf("tradecore: BoD seed failed: %+v", err)
		return ops.ExitFail
	}
	book := orderbook.NewBook(journal, orderbook.ConfirmationSinkFunc(positions.OnConfirmation))
	if err := book.Recover(ctx, "./data/journal", ""); err != nil {
		logs.Errorf("tradecore: cold recovery failed: %+v", err)
		return ops.ExitFail
	}

	checker := risk.NewChecker(cache, positions)
	conn := connectivity.NewManager(cache, book, checker)

	algoJournal, err := orderbook.NewJournalWriter(orderbook.DefaultAlgoJournalConfig("./data/algo_journal"))
	if err != nil {
		logs.Errorf("tradecore: algo journal open failed: %+v", err)
		return ops.ExitFail
	}
	if err := algoJournal.Start(ctx); err != nil {
		logs.Errorf("tradecore: algo journal start failed: %+v", err)
		return ops.ExitFail
	}
	defer algoJournal.Close()
	eventJournal := algo.NewEventJournal(algoJournal)

	// The hub needs the algo manager as its WakeupSink; the algo manager
	// needs the hub for market-data reads. Build the manager first with
	// a nil hub (it implements WakeupSink regardless), build the hub
	// against it, then wire the hub back in — see algo.Manager.SetHub.
	algos := algo.NewManager(ctx, cfg.AlgoShards, nil, book, conn, eventJournal)
	book.RegisterSink(algos)
	hub := marketdata.New(cache, algos)
	algos.SetHub(hub)
	algos.RegisterStrategy("twap", func() algo.Algo { return algo.NewTWAP(cache) })
	cache.SetPriceSource(hub)

	sim := simadapter.New("sim", 0, []uint32{0}, cache, hub, conn)
	conn.RegisterAdapter(sim)
	hub.RegisterAdapter(sim)

	go positions.MarkToMarketLoop(ctx, cfg.PnLDir)

	shutdownCh := make(chan struct{})
	deps := clientport.Deps{
		Cache:        cache,
		Hub:          hub,
		Book:         book,
		Positions:    positions,
		Connectivity: conn,
		Algos:        algos,
		JournalDir:   "./data/journal",
		AlgoJournalDir: "./data/algo_journal",
		Shutdown:     func() { close(shutdownCh) },
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", clientport.NewServer(deps).Handler())
	mux.Handle("/metrics", metrics.Handler())
	httpServer := &http.Server{Addr: portAddr(cfg.Port), Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Errorf("tradecore: http server failed: %+v", err)
		}
	}()
	logs.Infof("tradecore: listening on %s", httpServer.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logs.Infof("tradecore: signal received, shutting down")
	case <-shutdownCh:
		logs.Infof("tradecore: admin shutdown requested")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	cancel()
	return ops.ExitOK
}

func openDB(cfg ops.Config) (*gorm.DB, error) {
	if strings.HasPrefix(cfg.DBURL, "postgres://") || strings.HasPrefix(cfg.DBURL, "postgresql://") {
		return gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	}
	return gorm.Open(sqlite.Open(cfg.DBURL), &gorm.Config{})
}

func portAddr(port int) string {
	if port <= 0 {
		port = 8080
	}
	return ":" + itoa(port)
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [12]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
