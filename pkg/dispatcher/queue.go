package dispatcher

import (
	"context"
	"sync"

	"github.com/synod-run/synod/pkg/pipeline"
)

// eventQueue is the unbounded per-deliberation event queue §4.6 calls for.
// The Scheduler's own channel (pipeline.Scheduler.Run) is bounded, so a
// forwarder goroutine drains it into this queue, which never blocks a
// push: the Scheduler must keep writing events regardless of whether any
// client is currently reading them (a client disconnect must not propagate
// back to the Scheduler).
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []pipeline.Event
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *eventQueue) push(e pipeline.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, e)
	q.cond.Signal()
}

// closeQueue marks the queue done; once drained, next() reports ok=false.
// Named to avoid colliding with the unexported close keyword-ish verb used
// elsewhere; there is no io.Closer here.
func (q *eventQueue) closeQueue() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (q *eventQueue) next() (pipeline.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return pipeline.Event{}, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e, true
}

// stream reads the queue into a channel until the sentinel (queue closed
// and drained) or ctx is cancelled. The returned channel is the "reader"
// coroutine of §9's detach pattern: cancelling ctx (client disconnect)
// only stops this goroutine from forwarding further, it never reaches back
// into the queue's push side or the Scheduler task that feeds it.
func (q *eventQueue) stream(ctx context.Context) <-chan pipeline.Event {
	out := make(chan pipeline.Event)
	go func() {
		defer close(out)
		for {
			e, ok := q.next()
			if !ok {
				return
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
