package orderbook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tradecore/engine/internal/schema"
)

// ReplayHandler processes one decoded journal record. Returning an error
// aborts the replay.
type ReplayHandler func(header schema.EventHeader, payload []byte) error

// Replay implements both journal replay modes from spec §4.3:
//
//   - Cold recovery: seq0 == 0, handler sees every record in file order.
//   - Warm catch-up: seq0 > 0, handler only sees records with
//     header.Seq > seq0 — the caller applies its own permission filter
//     inside handler before forwarding to the client.
//
// opts, if given, controls record decoding for every file (checksum
// enforcement, max payload size, and whether a damaged record aborts
// the replay or is skipped — see JournalReaderOptions.SkipCorrupt).
// Book.Recover and the client port's catch-up path call Replay with no
// opts, since a torn confirmation must fail loudly; the chaos tool's
// post-injection verification pass is the one caller that opts in to
// tolerant decoding, since it exists specifically to measure how much
// of a deliberately damaged journal survives.
func Replay(ctx context.Context, dir, filePrefix string, seq0 uint64, handler ReplayHandler, opts ...JournalReaderOptions) error {
	if handler == nil {
		return errors.New("journal: replay handler is nil")
	}
	if filePrefix == "" {
		filePrefix = defaultFilePrefix
	}
	var readerOpts JournalReaderOptions
	if len(opts) > 0 {
		readerOpts = opts[0]
	}
	files, err := collectJournalFiles(dir, filePrefix)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := replayFile(ctx, path, seq0, readerOpts, handler); err != nil {
			return err
		}
	}
	return nil
}

func collectJournalFiles(dir, filePrefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	prefix := filePrefix + "-"
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".jrn") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files) // segment names embed timestamp + monotonic id, so lexical order is file order
	return files, nil
}

func replayFile(ctx context.Context, path string, seq0 uint64, opts JournalReaderOptions, handler ReplayHandler) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := NewJournalReader(file, opts)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		header, payload, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("replay %s: %w", path, err)
		}
		if header.Seq <= seq0 {
			continue
		}
		if err := handler(header, payload); err != nil {
			return err
		}
	}
}
