package session

import (
	"sync"
	"sync/atomic"
)

// notifier fans session events out to a single consumer without ever
// blocking the event loop. Received payloads are only kept once the
// consumer has subscribed; state changes are always kept.
type notifier struct {
	q          *queue[Event]
	out        chan Event
	once       sync.Once
	subscribed atomic.Bool
}

func newNotifier() *notifier {
	return &notifier{q: newQueue[Event](), out: make(chan Event)}
}

// emit queues ev and reports whether it was kept.
func (n *notifier) emit(ev Event) bool {
	if ev.Kind == Received && !n.subscribed.Load() {
		return false
	}
	n.q.push(ev)
	return true
}

// finish delivers what is queued and then closes the channel.
func (n *notifier) finish() { n.q.close() }

func (n *notifier) channel() <-chan Event {
	n.once.Do(func() {
		n.subscribed.Store(true)
		go n.forward()
	})
	return n.out
}

func (n *notifier) forward() {
	defer close(n.out)
	for {
		<-n.q.signal()
		for _, ev := range n.q.drain() {
			n.out <- ev
		}
		if n.q.isClosed() {
			for _, ev := range n.q.drain() {
				n.out <- ev
			}
			return
		}
	}
}
