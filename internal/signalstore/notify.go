package signalstore

import "sync"

// notifier is an unbounded FIFO of pending watch callbacks with a single
// dispatch goroutine, so one watcher's callbacks never run concurrently and
// store mutators never block on slow subscribers.
type notifier struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool
	pending  []func()
}

func newNotifier() *notifier {
	n := &notifier{}
	n.notEmpty = sync.NewCond(&n.mu)
	go n.dispatch()
	return n
}

func (n *notifier) enqueue(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.pending = append(n.pending, fn)
	n.notEmpty.Signal()
}

func (n *notifier) dispatch() {
	for {
		n.mu.Lock()
		for len(n.pending) == 0 && !n.closed {
			n.notEmpty.Wait()
		}
		if n.closed {
			n.pending = nil
			n.mu.Unlock()
			return
		}
		fn := n.pending[0]
		copy(n.pending, n.pending[1:])
		n.pending[len(n.pending)-1] = nil
		n.pending = n.pending[:len(n.pending)-1]
		n.mu.Unlock()

		fn()
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.notEmpty.Broadcast()
}
