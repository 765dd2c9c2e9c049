package server

import (
	"sort"
	"sync"
)

// Broker is an in-process pub/sub of encoded frames, keyed by room key.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan []byte]struct{}),
	}
}

// Subscribe returns a channel receiving every frame published to key.
func (b *Broker) Subscribe(key string) chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	if b.subs[key] == nil {
		b.subs[key] = make(map[chan []byte]struct{})
	}
	b.subs[key][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes ch. Room lifetime is decided by the authority, not here.
func (b *Broker) Unsubscribe(key string, ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[key], ch)
	if len(b.subs[key]) == 0 {
		delete(b.subs, key)
	}
}

// Publish fans data out to all subscribers of key.
func (b *Broker) Publish(key string, data []byte) {
	b.mu.RLock()
	for ch := range b.subs[key] {
		select {
		case ch <- data:
		default:
			// 느린 구독자는 건너뜀
		}
	}
	b.mu.RUnlock()
}

// Keys lists rooms with at least one subscriber.
func (b *Broker) Keys() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.subs))
	for k := range b.subs {
		out = append(out, k)
	}
	b.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Count returns the number of subscribers of key.
func (b *Broker) Count(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key])
}
