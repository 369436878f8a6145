package orderbook

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/tradecore/engine/internal/schema"
)

var ErrChecksumMismatch = errors.New("journal: checksum mismatch")

// JournalReaderOptions controls record decoding.
type JournalReaderOptions struct {
	DisableChecksum bool
	MaxPayloadSize  int

	// SkipCorrupt makes Next tolerate a damaged record instead of
	// returning an error: it resynchronizes on the next occurrence of
	// the record magic and resumes from there. Cold recovery and warm
	// catch-up (Book.Recover, the client port's `offline` replay path)
	// leave this false, since a torn confirmation must never be silently
	// skipped. The chaos replay tool sets it, since fault injection
	// (internal/chaos) deliberately produces damaged records and the
	// point of the exercise is to see how far the rest of the pipeline
	// gets, not to abort on the first one.
	SkipCorrupt bool
}

// JournalReader decodes journal records sequentially from one segment.
type JournalReader struct {
	r         *bufio.Reader
	opts      JournalReaderOptions
	headerBuf []byte
	payload   []byte
}

// NewJournalReader wraps an io.Reader with journal record decoding.
func NewJournalReader(r io.Reader, opts JournalReaderOptions) *JournalReader {
	return &JournalReader{
		r:         bufio.NewReader(r),
		opts:      opts,
		headerBuf: make([]byte, recordHeaderSize),
	}
}

// Next returns the next record header and payload. The payload slice is
// only valid until the next call to Next.
func (r *JournalReader) Next() (schema.EventHeader, []byte, error) {
	for {
		header, payload, err := r.decodeOne()
		if err == nil || err == io.EOF {
			return header, payload, err
		}
		if !r.opts.SkipCorrupt || !isCorruption(err) {
			return header, nil, err
		}
		if !r.resync() {
			return header, nil, io.EOF
		}
	}
}

func (r *JournalReader) decodeOne() (schema.EventHeader, []byte, error) {
	var header schema.EventHeader

	n, err := io.ReadFull(r.r, r.headerBuf)
	if err != nil {
		if err == io.EOF && n == 0 {
			return header, nil, io.EOF
		}
		return header, nil, err
	}

	header, payloadLen, err := decodeRecordHeader(r.headerBuf)
	if err != nil {
		return header, nil, err
	}
	if r.opts.MaxPayloadSize > 0 && payloadLen > uint32(r.opts.MaxPayloadSize) {
		return header, nil, ErrPayloadTooLarge
	}
	if uint64(payloadLen) > maxPayloadLen {
		return header, nil, ErrPayloadTooLarge
	}

	if payloadLen > 0 {
		if cap(r.payload) < int(payloadLen) {
			r.payload = make([]byte, payloadLen)
		}
		r.payload = r.payload[:payloadLen]
		if _, err := io.ReadFull(r.r, r.payload); err != nil {
			return header, nil, err
		}
	} else {
		r.payload = r.payload[:0]
	}

	var checksumBuf [recordChecksumSize]byte
	if _, err := io.ReadFull(r.r, checksumBuf[:]); err != nil {
		return header, nil, err
	}

	if !r.opts.DisableChecksum {
		expected := binary.LittleEndian.Uint32(checksumBuf[:])
		sum := checksum(r.headerBuf, r.payload)
		if sum != expected {
			return header, nil, ErrChecksumMismatch
		}
	}

	return header, r.payload, nil
}

// isCorruption reports whether err reflects a damaged record rather
// than a plain I/O failure or clean end-of-stream; those two cases are
// not resync candidates.
func isCorruption(err error) bool {
	switch {
	case errors.Is(err, ErrChecksumMismatch):
		return true
	case errors.Is(err, ErrInvalidMagic):
		return true
	case errors.Is(err, ErrUnsupportedRecordVer):
		return true
	case errors.Is(err, ErrInvalidRecordHeaderSize):
		return true
	default:
		return false
	}
}

// resync scans forward one byte at a time looking for the record magic,
// then re-buffers it so the next decodeOne call reads it again as the
// start of a fresh header. It reports whether a candidate boundary was
// found before EOF.
func (r *JournalReader) resync() bool {
	window := make([]byte, 0, len(recordMagic))
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			return false
		}
		window = append(window, b)
		if len(window) > len(recordMagic) {
			window = window[1:]
		}
		if len(window) == len(recordMagic) && bytes.Equal(window, recordMagic[:]) {
			match := append([]byte(nil), window...)
			rest, _ := io.ReadAll(r.r)
			r.r = bufio.NewReader(io.MultiReader(bytes.NewReader(match), bytes.NewReader(rest)))
			return true
		}
	}
}
