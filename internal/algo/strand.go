package algo

import "context"

// strand is a single-consumer FIFO of closures — the "dispatch strand"
// spec §4.7 requires per shard: every algo-visible callback posted to it
// runs strictly one at a time, in post order, on one goroutine.
type strand struct {
	tasks chan func()
}

func newStrand(capacity int) *strand {
	if capacity <= 0 {
		capacity = 1024
	}
	return &strand{tasks: make(chan func(), capacity)}
}

// post enqueues fn without blocking the caller once there's room; if the
// strand is saturated the caller blocks, which back-pressures the
// producer (market-data hub, adapter callback, or timer service) rather
// than dropping algo-visible events.
func (s *strand) post(fn func()) {
	s.tasks <- fn
}

// run drains the strand until ctx is done.
func (s *strand) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.tasks:
			fn()
		}
	}
}
