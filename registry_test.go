package modbus

import "testing"

func TestReserveReturnsDistinctIdleSlots(t *testing.T) {
	r := newRegistry(4)
	seen := make(map[*slot]bool)
	for i := 0; i < 4; i++ {
		s := r.reserve()
		if s == nil {
			t.Fatalf("reserve() returned nil on iteration %d", i)
		}
		if seen[s] {
			t.Fatalf("reserve() returned the same slot twice: id %d", s.id)
		}
		seen[s] = true
	}
}

func TestReserveFailsWhenSaturated(t *testing.T) {
	r := newRegistry(2)
	if r.reserve() == nil || r.reserve() == nil {
		t.Fatalf("expected two slots to be reservable")
	}
	if s := r.reserve(); s != nil {
		t.Fatalf("reserve() returned a slot on a saturated registry: id %d", s.id)
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	r := newRegistry(1)
	s := r.reserve()
	if s == nil {
		t.Fatal("reserve() returned nil")
	}
	if !r.emplace(s, 1) {
		t.Fatal("emplace() failed from Reserved")
	}
	if !r.markSent(s, 2) {
		t.Fatal("markSent() failed from ReceivedFromApp")
	}
	if !r.completeFromNetwork(s, 3) {
		t.Fatal("completeFromNetwork() failed from SentOnNetwork")
	}
	if !r.release(s) {
		t.Fatal("release() failed from a terminal state")
	}
	if s.loadState() != stateIdle {
		t.Fatalf("state after release = %v, want Idle", s.loadState())
	}
	if s.tsRecv != 0 || s.tsSent != 0 {
		t.Fatalf("release() did not reset timestamps: tsRecv=%d tsSent=%d", s.tsRecv, s.tsSent)
	}
}

func TestCompleteTimeoutLosesRaceToResponse(t *testing.T) {
	r := newRegistry(1)
	s := r.reserve()
	r.emplace(s, 1)
	r.markSent(s, 2)

	if !r.completeFromNetwork(s, 3) {
		t.Fatal("completeFromNetwork() should win when it runs first")
	}
	if r.completeTimeout(s) {
		t.Fatal("completeTimeout() should not also succeed on an already-completed slot")
	}
}

func TestCompleteErrorFromReceivedFromApp(t *testing.T) {
	r := newRegistry(1)
	s := r.reserve()
	r.emplace(s, 1)
	if !r.completeError(s) {
		t.Fatal("completeError() should succeed from ReceivedFromApp (carrier rejected before send)")
	}
	if s.loadState() != stateResponseError {
		t.Fatalf("state = %v, want ResponseError", s.loadState())
	}
}

func TestByIDOutOfRange(t *testing.T) {
	r := newRegistry(2)
	if r.byID(5) != nil {
		t.Fatal("byID() returned a slot for an out-of-range id")
	}
}

func TestReleaseRejectsNonTerminalState(t *testing.T) {
	r := newRegistry(1)
	s := r.reserve()
	if r.release(s) {
		t.Fatal("release() succeeded on a Reserved (non-terminal) slot")
	}
}
