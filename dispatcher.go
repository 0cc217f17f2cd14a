package modbus

import (
	"container/heap"
	"sync"
)

// dispatchItem is one completed slot waiting for its completion callback
// to run, ordered by the slot's priority field and then by arrival
// sequence so same-priority items stay FIFO.
type dispatchItem struct {
	s     *slot
	seq   uint64
	index int
}

type dispatchQueue []*dispatchItem

func (q dispatchQueue) Len() int { return len(q) }

func (q dispatchQueue) Less(i, j int) bool {
	if q[i].s.priority != q[j].s.priority {
		return q[i].s.priority > q[j].s.priority // higher priority first
	}
	return q[i].seq < q[j].seq
}

func (q dispatchQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *dispatchQueue) Push(x any) {
	item := x.(*dispatchItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *dispatchQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// dispatcher is the single goroutine that invokes completion callbacks,
// generalizing SagerNet-smux/session.go's shaperLoop (a container/heap
// of pending writes, drained by one goroutine) into a priority-ordered
// completion drain.
type dispatcher struct {
	reg   *registry
	clk   *clock
	mu    sync.Mutex
	cond  *sync.Cond
	queue dispatchQueue
	seq   uint64
	done  bool
	wg    sync.WaitGroup
}

func newDispatcher(reg *registry, clk *clock) *dispatcher {
	d := &dispatcher{reg: reg, clk: clk}
	d.cond = sync.NewCond(&d.mu)
	heap.Init(&d.queue)
	return d
}

// submit enqueues a terminal slot for callback invocation. Safe to call
// from the reactor, the timeout wheel, or a carrier writer's failure
// path — whichever first drives the slot into a terminal state.
func (d *dispatcher) submit(s *slot) {
	d.mu.Lock()
	d.seq++
	heap.Push(&d.queue, &dispatchItem{s: s, seq: d.seq})
	d.mu.Unlock()
	d.cond.Signal()
}

func (d *dispatcher) run() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			d.mu.Lock()
			for d.queue.Len() == 0 && !d.done {
				d.cond.Wait()
			}
			if d.queue.Len() == 0 && d.done {
				d.mu.Unlock()
				return
			}
			item := heap.Pop(&d.queue).(*dispatchItem)
			d.mu.Unlock()

			s := item.s
			cb := s.complete
			result := s.result
			err := s.err
			s.tsRespSent = d.clk.now()
			if cb != nil {
				cb(result, err)
			}
			d.reg.release(s)
		}
	}()
}

func (d *dispatcher) stop() {
	d.mu.Lock()
	d.done = true
	d.mu.Unlock()
	d.cond.Broadcast()
	d.wg.Wait()
}
