package refdata

import "sync/atomic"

// Throttle is a per-second (second_epoch, counter) rate limiter packed
// into a single 64-bit word: high 32 bits are the epoch second, low 32
// bits are the count. This lets Bump proceed lock-free via a
// compare-and-swap loop, per spec §9's design note.
//
// The spec flags the source's "swap tm/tm2 on new second" behaviour as
// almost certainly a bug (§9 Open Question) and directs implementations
// to follow the intent — reset to count=1 on a new second — which is
// what Bump does below.
type Throttle struct {
	word atomic.Uint64
}

func pack(second int64, count uint32) uint64 {
	return uint64(uint32(second))<<32 | uint64(count)
}

func unpack(word uint64) (second int64, count uint32) {
	return int64(int32(word >> 32)), uint32(word)
}

// Bump increments the counter for the given epoch second, resetting to
// 1 if the second has advanced. It returns the post-increment count.
func (t *Throttle) Bump(nowSecond int64) uint32 {
	for {
		old := t.word.Load()
		oldSecond, oldCount := unpack(old)
		var newSecond int64
		var newCount uint32
		if oldSecond == nowSecond {
			newSecond = oldSecond
			newCount = oldCount + 1
		} else {
			newSecond = nowSecond
			newCount = 1
		}
		if t.word.CompareAndSwap(old, pack(newSecond, newCount)) {
			return newCount
		}
	}
}

// Count returns the counter value for the given epoch second, or 0 if
// the throttle's last bump was for a different second.
func (t *Throttle) Count(nowSecond int64) uint32 {
	second, count := unpack(t.word.Load())
	if second != nowSecond {
		return 0
	}
	return count
}
