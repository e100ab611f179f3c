package bridge

import (
	"context"
	"sync"
)

type bindingCall struct {
	name    string
	payload string
}

// TabQueue delivers one tab's binding calls to the relay in arrival order,
// so a START is always stored before its COMPLETE. Push never blocks.
type TabQueue struct {
	relay *Relay
	tabID string

	mu      sync.Mutex
	pending []bindingCall
	wake    chan struct{}
	done    chan struct{}
}

// NewTabQueue starts the delivery worker. It stops when ctx is cancelled;
// calls still queued at that point are dropped.
func NewTabQueue(ctx context.Context, relay *Relay, tabID string) *TabQueue {
	q := &TabQueue{
		relay: relay,
		tabID: tabID,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go q.run(ctx)
	return q
}

func (q *TabQueue) Push(name, payload string) {
	q.mu.Lock()
	q.pending = append(q.pending, bindingCall{name: name, payload: payload})
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the worker has exited.
func (q *TabQueue) Done() <-chan struct{} { return q.done }

func (q *TabQueue) run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				q.mu.Unlock()
				break
			}
			call := q.pending[0]
			q.pending[0] = bindingCall{}
			q.pending = q.pending[1:]
			q.mu.Unlock()

			if ctx.Err() != nil {
				return
			}
			q.relay.HandleBinding(ctx, q.tabID, call.name, call.payload)
		}
	}
}
