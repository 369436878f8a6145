// Command chaos replays a confirmation or algo-event journal through a
// fault-injection engine (drop, duplicate, reorder, delay, corrupt) and
// writes the result to a fresh journal directory. It gives
// simadapter-driven integration runs a way to test how the order book,
// client port, and offline-replay path behave against a network and
// disk that misbehave, and reports how much of the damage a tolerant
// replay (JournalReaderOptions.SkipCorrupt) can still recover from.
package main

import (
	"context"
	"flag"
	"os"
	"strings"

	"github.com/yanun0323/logs"

	"github.com/tradecore/engine/internal/chaos"
	"github.com/tradecore/engine/internal/orderbook"
	"github.com/tradecore/engine/internal/schema"
)

func main() {
	inputDir := flag.String("input-dir", "./data/journal", "input journal directory")
	inputPrefix := flag.String("input-prefix", "", "input journal file prefix")
	outputDir := flag.String("output-dir", "./data/journal_chaos", "output journal directory")
	kind := flag.String("kind", "confirm", "journal kind being tested: confirm or algo")
	eventTypes := flag.String("event-types", "", "comma-separated event types to target: confirmation,algo (default: all)")
	seed := flag.Int64("seed", 0, "RNG seed (0=derive from time)")
	dropRate := flag.Float64("drop-rate", 0, "drop probability [0-1]")
	dupRate := flag.Float64("dup-rate", 0, "duplicate probability [0-1]")
	corruptRate := flag.Float64("corrupt-rate", 0, "single-bit payload corruption probability [0-1]")
	reorderWindow := flag.Int("reorder-window", 1, "reorder window (>=1)")
	maxDelay := flag.Duration("max-delay", 0, "max receive-timestamp delay")
	verify := flag.Bool("verify", true, "after writing, replay the output journal in tolerant mode and report survival")
	flag.Parse()

	engine, err := chaos.NewEngine(chaos.Config{
		Seed:          *seed,
		DropRate:      *dropRate,
		DuplicateRate: *dupRate,
		CorruptRate:   *corruptRate,
		ReorderWindow: *reorderWindow,
		MaxDelay:      *maxDelay,
		EventTypes:    parseEventTypes(*eventTypes),
	})
	if err != nil {
		logs.Errorf("chaos: invalid config: %+v", err)
		os.Exit(1)
	}

	outCfg := orderbook.DefaultConfirmationJournalConfig(*outputDir)
	if *kind == "algo" {
		outCfg = orderbook.DefaultAlgoJournalConfig(*outputDir)
	}
	writer, err := orderbook.NewJournalWriter(outCfg)
	if err != nil {
		logs.Errorf("chaos: output journal open failed: %+v", err)
		os.Exit(1)
	}
	ctx := context.Background()
	if err := writer.Start(ctx); err != nil {
		logs.Errorf("chaos: output journal start failed: %+v", err)
		os.Exit(1)
	}

	written := 0
	err = orderbook.Replay(ctx, *inputDir, *inputPrefix, 0, func(header schema.EventHeader, payload []byte) error {
		ev := chaos.Event{Header: header, Payload: copyPayload(payload)}
		for _, out := range engine.Process(ev) {
			if err := appendEvent(writer, out); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		logs.Errorf("chaos: replay failed: %+v", err)
		os.Exit(1)
	}
	for _, out := range engine.Flush() {
		if err := appendEvent(writer, out); err != nil {
			logs.Errorf("chaos: flush append failed: %+v", err)
			os.Exit(1)
		}
		written++
	}
	if err := writer.Close(); err != nil {
		logs.Errorf("chaos: output journal close failed: %+v", err)
		os.Exit(1)
	}
	logs.Infof("chaos: wrote %d chaos-injected records to %s", written, *outputDir)

	if *verify {
		survived := 0
		verr := orderbook.Replay(ctx, *outputDir, outCfg.FilePrefix, 0, func(schema.EventHeader, []byte) error {
			survived++
			return nil
		}, orderbook.JournalReaderOptions{SkipCorrupt: true})
		if verr != nil {
			logs.Errorf("chaos: tolerant verification failed: %+v", verr)
			os.Exit(1)
		}
		logs.Infof("chaos: tolerant replay recovered %d/%d records", survived, written)
	}
}

func appendEvent(writer *orderbook.JournalWriter, ev chaos.Event) error {
	ev.Header.Seq = writer.NextSeq()
	return writer.Append(ev.Header, ev.Payload)
}

func copyPayload(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return cp
}

func parseEventTypes(csv string) []schema.EventType {
	if csv == "" {
		return nil
	}
	var out []schema.EventType
	for _, tok := range strings.Split(csv, ",") {
		switch strings.TrimSpace(tok) {
		case "confirmation":
			out = append(out, schema.EventConfirmation)
		case "algo":
			out = append(out, schema.EventAlgoStatus)
		}
	}
	return out
}
