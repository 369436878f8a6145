package orderbook

import (
	"fmt"
	"time"
)

const (
	defaultQueueSize  = 4096
	defaultBufferSize = 256 * 1024

	// defaultFilePrefix is the file-name tag Replay falls back to when a
	// caller passes an empty prefix. It matches the confirmation
	// journal, the port every other component reads from by default;
	// callers reading the algo-event journal pass "algoevt" explicitly.
	defaultFilePrefix = "confirm"
)

// JournalConfig controls one journal writer instance. The confirmation
// journal and the algo-event journal (spec §4.3, §4.7) each get their
// own JournalConfig rather than sharing one set of defaults: a
// confirmation is the durable record of what happened to client money
// and must reach disk quickly and be kept for the full session, while
// an algo-event record only backs strand recovery on process restart
// and can tolerate looser durability and a much shorter retention
// window.
type JournalConfig struct {
	Dir                string
	SegmentMaxBytes    int64
	SegmentMaxDuration time.Duration
	QueueSize          int
	BufferSize         int
	FilePrefix         string
	FlushInterval      time.Duration
	SyncInterval       time.Duration
	CopyPayload        bool

	// RetentionSegments caps how many closed segment files are kept in
	// Dir; once a new segment is opened, the oldest closed segments
	// beyond this count are removed. Zero disables pruning (the caller
	// is responsible for its own archival/rotation off-box).
	RetentionSegments int
}

// DefaultConfirmationJournalConfig returns the tuned defaults for the
// confirmation journal: small, frequently-synced segments so a crash
// loses at most a few seconds of executions, and no automatic pruning
// (confirmations are the audit trail of record for the session).
func DefaultConfirmationJournalConfig(dir string) JournalConfig {
	return JournalConfig{
		Dir:                dir,
		SegmentMaxBytes:    256 << 20,
		SegmentMaxDuration: 5 * time.Minute,
		QueueSize:          defaultQueueSize,
		BufferSize:         defaultBufferSize,
		FilePrefix:         "confirm",
		FlushInterval:      50 * time.Millisecond,
		SyncInterval:       time.Second,
	}
}

// DefaultAlgoJournalConfig returns the tuned defaults for the algo-event
// journal: bigger segments (status ticks are frequent but small),
// looser sync cadence since an algo can rebuild lost state from the
// order book on restart, and a short retention window since these
// segments only matter until the strand that wrote them exits.
func DefaultAlgoJournalConfig(dir string) JournalConfig {
	return JournalConfig{
		Dir:                dir,
		SegmentMaxBytes:    1 << 30,
		SegmentMaxDuration: 30 * time.Minute,
		QueueSize:          defaultQueueSize,
		BufferSize:         defaultBufferSize,
		FilePrefix:         "algoevt",
		FlushInterval:      500 * time.Millisecond,
		SyncInterval:       10 * time.Second,
		RetentionSegments:  8,
	}
}

func (c JournalConfig) withDefaults() JournalConfig {
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = 1 << 30
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.FilePrefix == "" {
		c.FilePrefix = "journal"
	}
	return c
}

// Validate checks if the configuration is usable.
func (c JournalConfig) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("invalid journal config: Dir is empty")
	}
	if c.SegmentMaxBytes <= 0 {
		return fmt.Errorf("invalid journal config: SegmentMaxBytes must be > 0")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("invalid journal config: QueueSize must be > 0")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("invalid journal config: BufferSize must be > 0")
	}
	if c.FilePrefix == "" {
		return fmt.Errorf("invalid journal config: FilePrefix is empty")
	}
	if c.FlushInterval < 0 {
		return fmt.Errorf("invalid journal config: FlushInterval must be >= 0")
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("invalid journal config: SyncInterval must be >= 0")
	}
	if c.RetentionSegments < 0 {
		return fmt.Errorf("invalid journal config: RetentionSegments must be >= 0")
	}
	return nil
}
