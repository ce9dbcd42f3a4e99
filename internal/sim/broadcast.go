package sim

import (
	"sync"

	"go.uber.org/atomic"
)

// Broadcaster fans samples out to independent per-subscriber queues.
// Publish never blocks: a subscriber whose queue is full misses the sample.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[int]chan Sample
	next    int
	closed  bool
	dropped atomic.Int64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Sample)}
}

// Subscribe registers a queue of the given capacity. The returned cancel
// function unregisters it and closes the channel; it is safe to call twice.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Sample, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Sample, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers s to every subscriber with room and reports how many
// queues accepted it.
func (b *Broadcaster) Publish(s Sample) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	delivered := 0
	for _, ch := range b.subs {
		select {
		case ch <- s:
			delivered++
		default:
			b.dropped.Inc()
		}
	}
	return delivered
}

// Dropped is the total number of samples discarded on full queues.
func (b *Broadcaster) Dropped() int64 { return b.dropped.Load() }

func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later publishes are discarded.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
