package modbus

import "time"

// clock supplies monotonic nanosecond timestamps for a slot's ts_recv,
// ts_sent, ts_resp_recv, and ts_resp_sent fields. A field, not a free
// function, so tests can substitute a deterministic stand-in.
type clock struct {
	start time.Time
}

func newClock() *clock {
	return &clock{start: time.Now()}
}

// now returns nanoseconds elapsed since the clock was created. Derived
// from time.Since rather than time.Now().UnixNano() so the value is
// backed by the monotonic reading Go retains internally.
func (c *clock) now() int64 {
	return int64(time.Since(c.start))
}
