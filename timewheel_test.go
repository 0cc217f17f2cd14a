package modbus

import (
	"sync"
	"testing"
	"time"
)

func TestTimeoutWheelExpiresUnremovedSlot(t *testing.T) {
	var mu sync.Mutex
	var expired []*slot

	w := newTimeoutWheel(20*time.Millisecond, 20*time.Millisecond, 5*time.Millisecond, func(s *slot) {
		mu.Lock()
		expired = append(expired, s)
		mu.Unlock()
	})
	w.run()
	defer w.stop()

	s := &slot{id: 1, timeoutSlot: -1}
	w.insert(s, w.ticksFor(20*time.Millisecond))

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(expired)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 || expired[0] != s {
		t.Fatalf("expired = %v, want exactly [s]", expired)
	}
}

func TestTimeoutWheelRemoveBeforeExpiry(t *testing.T) {
	var mu sync.Mutex
	fired := false

	w := newTimeoutWheel(10*time.Millisecond, 10*time.Millisecond, 5*time.Millisecond, func(s *slot) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})
	w.run()
	defer w.stop()

	s := &slot{id: 1, timeoutSlot: -1}
	w.insert(s, w.ticksFor(10*time.Millisecond))
	w.remove(s)

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Fatal("onExpire fired for a slot removed before its deadline")
	}
	if s.timeoutSlot != -1 {
		t.Fatalf("timeoutSlot after remove = %d, want -1", s.timeoutSlot)
	}
}

func TestNewTimeoutWheelPanicsOnNonPositiveSlack(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for zero slack")
		}
	}()
	newTimeoutWheel(10*time.Millisecond, 0, time.Millisecond, func(*slot) {})
}

func TestTicksForRoundsUp(t *testing.T) {
	w := newTimeoutWheel(100*time.Millisecond, 10*time.Millisecond, 10*time.Millisecond, func(*slot) {})
	if got := w.ticksFor(25 * time.Millisecond); got != 3 {
		t.Fatalf("ticksFor(25ms) with 10ms ticks = %d, want 3", got)
	}
	if got := w.ticksFor(20 * time.Millisecond); got != 2 {
		t.Fatalf("ticksFor(20ms) with 10ms ticks = %d, want 2", got)
	}
}
