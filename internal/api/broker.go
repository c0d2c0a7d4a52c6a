package api

import (
	"sync"
	"time"

	"catersync/internal/model"
)

// FeedTopic is the single topic dispatch clients subscribe to.
const FeedTopic = "orders"

// FeedEvent is pushed to dispatch WebSocket clients after each status change.
type FeedEvent struct {
	Type          string              `json:"type"`
	OrderNumber   string              `json:"orderNumber"`
	Status        model.Status        `json:"status"`
	From          model.Status        `json:"from,omitempty"`
	PartnerStatus model.PartnerStatus `json:"partnerStatus,omitempty"`
	At            time.Time           `json:"at"`
}

// EventBroker fans feed events out to subscribers.
type EventBroker interface {
	Subscribe(topic string) chan FeedEvent
	Unsubscribe(topic string, ch chan FeedEvent)
	Publish(topic string, evt FeedEvent)
}

// Broker is the in-process EventBroker. Slow subscribers drop events.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan FeedEvent]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan FeedEvent]struct{}{}}
}

func (b *Broker) Subscribe(topic string) chan FeedEvent {
	ch := make(chan FeedEvent, 16)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan FeedEvent]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(topic string, ch chan FeedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[topic]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, topic)
	}
	close(ch)
}

func (b *Broker) Publish(topic string, evt FeedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[topic] {
		select {
		case ch <- evt:
		default:
		}
	}
}
