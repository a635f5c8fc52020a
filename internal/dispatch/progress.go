package dispatch

import "sync"

// Progress is one precalculation heartbeat. A run that finds nothing to do
// publishes a single zero/zero update so listeners still see completion.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Broadcaster fans precalculation progress out to any number of subscribers.
// Publishing never blocks: a subscriber that stops draining misses updates
// instead of stalling the run.
type Broadcaster struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Progress
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Progress)}
}

// Subscribe registers a listener. The returned function removes it and closes
// the channel; calling it twice is safe.
func (b *Broadcaster) Subscribe() (<-chan Progress, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Progress, 16)
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Publish delivers an update to every subscriber, dropping it for any whose
// buffer is full.
func (b *Broadcaster) Publish(p Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- p:
		default:
		}
	}
}
