package orderbook

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"github.com/tradecore/engine/internal/schema"
)

var (
	ErrQueueFull       = errors.New("journal: queue full")
	ErrClosed          = errors.New("journal: writer closed")
	ErrNotStarted      = errors.New("journal: writer not started")
	ErrAlreadyStarted  = errors.New("journal: writer already started")
	ErrPayloadTooLarge = errors.New("journal: payload too large")
)

const maxPayloadLen = uint64(^uint32(0))

// JournalWriter appends events to append-only, single-writer segment
// files from a buffered queue (spec §4.3, §6). One JournalWriter backs
// the confirmation journal; a second, independent instance backs the
// algo event journal.
type JournalWriter struct {
	cfg JournalConfig
	ch  chan journalRequest
	wg  sync.WaitGroup
	err atomic.Value

	started uint32
	closed  uint32

	nextSeq atomic.Uint64
}

// NewJournalWriter creates a journal writer and ensures the target
// directory exists.
func NewJournalWriter(cfg JournalConfig) (*JournalWriter, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &JournalWriter{cfg: cfg, ch: make(chan journalRequest, cfg.QueueSize)}, nil
}

// Start runs the writer loop in a new goroutine.
func (w *JournalWriter) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&w.started, 0, 1) {
		return ErrAlreadyStarted
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	return nil
}

// Close stops the writer and flushes any buffered data.
func (w *JournalWriter) Close() error {
	if atomic.CompareAndSwapUint32(&w.closed, 0, 1) {
		close(w.ch)
	}
	w.wg.Wait()
	return w.Err()
}

// Err returns the first error observed by the writer, if any.
func (w *JournalWriter) Err() error {
	if v := w.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// NextSeq allocates the next monotonic journal sequence number. Callers
// stamp it onto the event (Confirmation.Seq / algo status seq) before
// calling Append so the sequence a client sees in a snapshot matches the
// one it will see on replay.
func (w *JournalWriter) NextSeq() uint64 {
	return w.nextSeq.Add(1)
}

// Append enqueues an event without blocking.
func (w *JournalWriter) Append(header schema.EventHeader, payload []byte) error {
	if atomic.LoadUint32(&w.closed) != 0 {
		return ErrClosed
	}
	if atomic.LoadUint32(&w.started) == 0 {
		return ErrNotStarted
	}
	if err := w.Err(); err != nil {
		return err
	}
	if uint64(len(payload)) > maxPayloadLen {
		return ErrPayloadTooLarge
	}
	if header.Version == 0 {
		header.Version = schema.SchemaVersion
	}
	if w.cfg.CopyPayload && len(payload) > 0 {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		payload = cp
	}

	req := journalRequest{header: header, payload: payload}
	select {
	case w.ch <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

func (w *JournalWriter) run(ctx context.Context) {
	var (
		seg         *journalSegment
		segID       uint64
		headerBuf   = make([]byte, recordHeaderSize)
		checksumBuf [4]byte
		flushC      <-chan time.Time
		syncC       <-chan time.Time
		flushTicker *time.Ticker
		syncTicker  *time.Ticker
	)

	if w.cfg.FlushInterval > 0 {
		flushTicker = time.NewTicker(w.cfg.FlushInterval)
		flushC = flushTicker.C
	}
	if w.cfg.SyncInterval > 0 {
		syncTicker = time.NewTicker(w.cfg.SyncInterval)
		syncC = syncTicker.C
	}

	defer func() {
		if flushTicker != nil {
			flushTicker.Stop()
		}
		if syncTicker != nil {
			syncTicker.Stop()
		}
		if err := w.closeSegment(seg); err != nil && w.Err() == nil {
			w.setErr(err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.drainNonBlocking(&seg, &segID, headerBuf, &checksumBuf)
			return
		case req, ok := <-w.ch:
			if !ok {
				return
			}
			if err := w.writeRecord(&seg, &segID, headerBuf, &checksumBuf, req); err != nil {
				w.setErr(err)
				return
			}
		case <-flushC:
			if err := w.flushSegment(seg); err != nil {
				w.setErr(err)
				return
			}
		case <-syncC:
			if err := w.syncSegment(seg); err != nil {
				w.setErr(err)
				return
			}
		}
	}
}

func (w *JournalWriter) drainNonBlocking(seg **journalSegment, segID *uint64, headerBuf []byte, checksumBuf *[4]byte) {
	for {
		select {
		case req, ok := <-w.ch:
			if !ok {
				return
			}
			if err := w.writeRecord(seg, segID, headerBuf, checksumBuf, req); err != nil {
				w.setErr(err)
				return
			}
		default:
			return
		}
	}
}

func (w *JournalWriter) writeRecord(seg **journalSegment, segID *uint64, headerBuf []byte, checksumBuf *[4]byte, req journalRequest) error {
	if uint64(len(req.payload)) > maxPayloadLen {
		return ErrPayloadTooLarge
	}

	now := time.Now().UTC()
	recordSize := int64(recordHeaderSize + len(req.payload) + recordChecksumSize)
	if w.shouldRotate(*seg, now, recordSize) {
		if err := w.closeSegment(*seg); err != nil {
			return err
		}
		opened, err := w.openSegment(segID, now)
		if err != nil {
			return err
		}
		*seg = opened
	}

	encodeHeader(headerBuf, req.header, len(req.payload))
	sum := checksum(headerBuf, req.payload)
	binary.LittleEndian.PutUint32(checksumBuf[:], sum)

	if _, err := (*seg).buf.Write(headerBuf); err != nil {
		return err
	}
	if len(req.payload) > 0 {
		if _, err := (*seg).buf.Write(req.payload); err != nil {
			return err
		}
	}
	if _, err := (*seg).buf.Write(checksumBuf[:]); err != nil {
		return err
	}

	(*seg).size += recordSize
	return nil
}

func (w *JournalWriter) shouldRotate(seg *journalSegment, now time.Time, nextSize int64) bool {
	if seg == nil {
		return true
	}
	if w.cfg.SegmentMaxBytes > 0 && seg.size+nextSize > w.cfg.SegmentMaxBytes {
		return true
	}
	if w.cfg.SegmentMaxDuration > 0 && now.Sub(seg.openedAt) >= w.cfg.SegmentMaxDuration {
		return true
	}
	return false
}

func (w *JournalWriter) flushSegment(seg *journalSegment) error {
	if seg == nil {
		return nil
	}
	return seg.buf.Flush()
}

func (w *JournalWriter) syncSegment(seg *journalSegment) error {
	if seg == nil {
		return nil
	}
	if err := seg.buf.Flush(); err != nil {
		return err
	}
	return seg.file.Sync()
}

func (w *JournalWriter) closeSegment(seg *journalSegment) error {
	if seg == nil {
		return nil
	}
	if err := seg.buf.Flush(); err != nil {
		_ = seg.file.Close()
		return err
	}
	if err := seg.file.Sync(); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}

func (w *JournalWriter) openSegment(segID *uint64, now time.Time) (*journalSegment, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ts := now.Format("20060102-150405")
	for {
		*segID = *segID + 1
		name := fmt.Sprintf("%s-%s-%06d.jrn", w.cfg.FilePrefix, ts, *segID)
		path := filepath.Join(w.cfg.Dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return nil, err
		}
		w.pruneOldSegments(path)
		return &journalSegment{
			file:     file,
			buf:      bufio.NewWriterSize(file, w.cfg.BufferSize),
			openedAt: now,
		}, nil
	}
}

// pruneOldSegments removes closed segment files beyond cfg.RetentionSegments,
// oldest first. justOpened is excluded from consideration even though it
// already matches the glob, since it is the segment writes are about to
// land in. A prune failure only gets logged: retention is a disk-space
// concern, not a durability one, and must never abort a live journal
// writer over a stale file it couldn't remove.
func (w *JournalWriter) pruneOldSegments(justOpened string) {
	if w.cfg.RetentionSegments <= 0 {
		return
	}
	files, err := collectJournalFiles(w.cfg.Dir, w.cfg.FilePrefix)
	if err != nil {
		logs.Debugf("orderbook: journal retention scan failed: %+v", err)
		return
	}
	closed := files[:0:0]
	for _, f := range files {
		if f != justOpened {
			closed = append(closed, f)
		}
	}
	if len(closed) <= w.cfg.RetentionSegments {
		return
	}
	for _, f := range closed[:len(closed)-w.cfg.RetentionSegments] {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			logs.Debugf("orderbook: journal retention prune of %s failed: %+v", f, err)
		}
	}
}

func (w *JournalWriter) setErr(err error) {
	if err == nil {
		return
	}
	if w.err.Load() != nil {
		return
	}
	w.err.Store(err)
}

type journalRequest struct {
	header  schema.EventHeader
	payload []byte
}

type journalSegment struct {
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}
