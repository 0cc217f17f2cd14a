package modbus

import "sync"

// bufferPool hands out reusable byte slices for frame encode/decode
// scratch space, grounded on Atsika-aznet/aznet.go's buffersPool
// (sync.Pool of fixed-size byte slices keyed by a single capacity).
type bufferPool struct {
	pool sync.Pool
	size int
}

func newBufferPool(size int) *bufferPool {
	return &bufferPool{
		pool: sync.Pool{New: func() any {
			b := make([]byte, size)
			return &b
		}},
		size: size,
	}
}

func (p *bufferPool) get() []byte {
	b := p.pool.Get().(*[]byte)
	return (*b)[:p.size]
}

func (p *bufferPool) put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}

// recordArena bounds the total number of FileSubRecord nodes a single
// read-file-record decode may allocate, so a malformed or hostile
// response (in principle unbounded, since sub-records are chained until
// the outer byte count is exhausted) cannot exhaust memory unchecked.
type recordArena struct {
	remaining int
}

func newRecordArena(capacity int) *recordArena {
	return &recordArena{remaining: capacity}
}

// take reserves room for one more record node, returning
// ErrMemoryExhausted once the arena's capacity is used up.
func (a *recordArena) take() error {
	if a.remaining <= 0 {
		return wrapKind(KindResourceExhaustion, ErrMemoryExhausted)
	}
	a.remaining--
	return nil
}
