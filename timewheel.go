package modbus

import (
	"sync"
	"time"
)

// timeoutWheel is a ring of buckets advanced by a fixed-period ticker,
// generalizing SagerNet-smux/session.go's two-timer keepalive() loop
// into an N-bucket ring. Bucket count N = floor((timeout + slack) / tick)
// + 1, so the retiring bucket can never lap the one currently being
// inserted into.
type timeoutWheel struct {
	buckets []bucket
	tick    time.Duration
	cursor  uint64 // atomic-free: only the ticker goroutine advances it

	onExpire func(*slot)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type bucket struct {
	mu    sync.Mutex
	slots map[*slot]struct{}
}

// newTimeoutWheel builds a wheel sized for timeout, ticking once per
// tick, with slack extra buckets so insert-then-immediately-expire races
// can't happen when timeout isn't an exact multiple of tick.
func newTimeoutWheel(timeout, slack, tick time.Duration, onExpire func(*slot)) *timeoutWheel {
	if slack <= 0 {
		panic("modbus: timeout wheel slack must be positive")
	}
	if tick <= 0 {
		tick = time.Millisecond
	}
	n := int((timeout+slack)/tick) + 1
	if n < 1 {
		n = 1
	}
	w := &timeoutWheel{
		buckets:  make([]bucket, n),
		tick:     tick,
		onExpire: onExpire,
		stopCh:   make(chan struct{}),
	}
	for i := range w.buckets {
		w.buckets[i].slots = make(map[*slot]struct{})
	}
	return w
}

// ticksFor converts a duration into a tick count, rounding up so a
// requested timeout is never armed for less time than asked.
func (w *timeoutWheel) ticksFor(d time.Duration) int {
	n := int((d + w.tick - 1) / w.tick)
	if n < 1 {
		n = 1
	}
	return n
}

func (w *timeoutWheel) bucketFor(offset int) int {
	n := len(w.buckets)
	return int((w.cursor + uint64(offset)) % uint64(n))
}

// insert places s into the bucket `ticksAhead` ticks from the current
// cursor, recording the chosen bucket on the slot so remove() can find
// it again without scanning.
func (w *timeoutWheel) insert(s *slot, ticksAhead int) {
	idx := w.bucketFor(ticksAhead)
	b := &w.buckets[idx]
	b.mu.Lock()
	b.slots[s] = struct{}{}
	b.mu.Unlock()
	s.timeoutSlot = idx
}

// remove takes s out of whichever bucket it was inserted into, if any.
// Called when a response arrives before the deadline.
func (w *timeoutWheel) remove(s *slot) {
	if s.timeoutSlot < 0 {
		return
	}
	b := &w.buckets[s.timeoutSlot]
	b.mu.Lock()
	delete(b.slots, s)
	b.mu.Unlock()
	s.timeoutSlot = -1
}

// run advances the cursor once per tick, retiring the bucket the cursor
// moves onto and invoking onExpire for every slot still parked there
// (one that never saw remove() called, i.e. never got a response).
func (w *timeoutWheel) run() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.tick)
		defer ticker.Stop()
		for {
			select {
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.cursor++
				idx := int(w.cursor % uint64(len(w.buckets)))
				b := &w.buckets[idx]
				b.mu.Lock()
				expired := make([]*slot, 0, len(b.slots))
				for s := range b.slots {
					expired = append(expired, s)
				}
				for _, s := range expired {
					delete(b.slots, s)
				}
				b.mu.Unlock()
				for _, s := range expired {
					s.timeoutSlot = -1
					w.onExpire(s)
				}
			}
		}
	}()
}

func (w *timeoutWheel) stop() {
	close(w.stopCh)
	w.wg.Wait()
}
