package pricefeed

import (
	"sync"

	"bullion-ledger/internal/model"
)

// Event is one price update as it goes out on the stream.
type Event struct {
	Type  string               `json:"type"`
	Price model.CommodityPrice `json:"price"`
}

const subscriberBuffer = 100

// Bus fans price updates out to stream subscribers. Delivery is
// best-effort: a subscriber whose buffer is full misses the update
// rather than stalling the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish wraps the price in an Event and offers it to every
// subscriber without blocking.
func (b *Bus) Publish(p model.CommodityPrice) {
	evt := Event{Type: "price", Price: p}
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.RUnlock()
}
