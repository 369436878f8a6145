package obs

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// RequestTracer stamps every inbound Place with a trace ID so its
// risk check, adapter dispatch, and resulting confirmation can be
// correlated across log lines for one order lifecycle. The process-wide
// prefix comes from a UUID rather than a monotonic counter seeded from
// wall-clock time, so two processes racing to start in the same
// microsecond never hand out colliding trace IDs.
type RequestTracer struct {
	prefix string
	next   uint64
}

// NewRequestTracer returns a tracer with a fresh process-unique prefix.
func NewRequestTracer() *RequestTracer {
	return &RequestTracer{prefix: uuid.NewString()[:8]}
}

// Next returns the next trace ID for this process.
func (t *RequestTracer) Next() string {
	if t == nil {
		return ""
	}
	n := atomic.AddUint64(&t.next, 1)
	return fmt.Sprintf("%s-%d", t.prefix, n)
}
