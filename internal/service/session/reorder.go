package session

import "sync"

// reorder emits utterances in sequence-number order. Arbitration for a
// later utterance can finish first when an earlier one is waiting on the
// judgment round trip; its emission is held here until every predecessor
// has gone out.
type reorder struct {
	mu        sync.Mutex
	cond      *sync.Cond
	next      uint64
	pending   map[uint64]func()
	discarded bool
}

func newReorder() *reorder {
	r := &reorder{pending: map[uint64]func(){}}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// submit registers the emission for seq and flushes every emission that is
// now in order. The mutex is held across the emit calls so that flushes
// from concurrent submitters cannot interleave.
func (r *reorder) submit(seq uint64, emit func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[seq] = emit
	for {
		fn, ok := r.pending[r.next]
		if !ok {
			break
		}
		delete(r.pending, r.next)
		r.next++
		fn()
	}
	r.cond.Broadcast()
}

// wait blocks until every emission before seq has gone out, or until the
// buffer is discarded. Judgments use it to see the full context of their
// predecessors before resolving.
func (r *reorder) wait(seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.next < seq && !r.discarded {
		r.cond.Wait()
	}
}

// discard drops every held emission and releases waiters. Used at session
// cancellation.
func (r *reorder) discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discarded = true
	r.pending = map[uint64]func(){}
	r.cond.Broadcast()
}
