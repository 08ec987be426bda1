package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscription is a scoped handle on one topic's event stream. It is owned
// by the Broker and must be released with Close; Close is idempotent and
// safe to call from any goroutine, including concurrently with delivery.
type Subscription struct {
	id      string
	topic   string
	created time.Time

	ch        chan ChangeEvent
	closeOnce sync.Once
	broker    *Broker
}

// Events returns the live event channel. The channel is closed when the
// subscription is closed. Delivery is newest-wins: if the subscriber is
// slow, an undelivered event may be replaced by a more recent one, so the
// channel always carries at least the most recent coalesced event.
func (s *Subscription) Events() <-chan ChangeEvent {
	return s.ch
}

// Topic returns the topic this subscription is bound to.
func (s *Subscription) Topic() string {
	return s.topic
}

// Close releases the subscription. Further events are not delivered; other
// subscribers on the same topic are unaffected.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.broker.remove(s)
		close(s.ch)
	})
}

// Broker fans change events out to per-topic subscribers. Publish never
// blocks; each subscriber receives events independently of the others.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[string]*Subscription // topic -> id -> sub
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[string]*Subscription),
	}
}

// Subscribe registers a new subscriber on a topic.
func (b *Broker) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		id:      uuid.NewString(),
		topic:   topic,
		created: time.Now(),
		ch:      make(chan ChangeEvent, 1),
		broker:  b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	byID, ok := b.subs[topic]
	if !ok {
		byID = make(map[string]*Subscription)
		b.subs[topic] = byID
	}
	byID[sub.id] = sub

	return sub
}

// Publish delivers an event to every subscriber of its topic. Slow
// subscribers have their single-slot buffer replaced with the newer event
// rather than blocking the publisher.
func (b *Broker) Publish(ev ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[ev.Topic] {
		deliverLatest(sub.ch, ev)
	}
	if ev.Topic != TopicAll {
		for _, sub := range b.subs[TopicAll] {
			deliverLatest(sub.ch, ev)
		}
	}
}

// SubscriberCount reports the number of open subscriptions on a topic.
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close releases every open subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	all := make([]*Subscription, 0)
	for _, byID := range b.subs {
		for _, sub := range byID {
			all = append(all, sub)
		}
	}
	b.subs = make(map[string]map[string]*Subscription)
	b.mu.Unlock()

	for _, sub := range all {
		sub.closeOnce.Do(func() {
			close(sub.ch)
		})
	}
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	byID, ok := b.subs[s.topic]
	if !ok {
		return
	}
	delete(byID, s.id)
	if len(byID) == 0 {
		delete(b.subs, s.topic)
	}
}

// deliverLatest replaces a pending undelivered event with the newer one.
func deliverLatest(ch chan ChangeEvent, ev ChangeEvent) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		// Buffer full: drop the stale event and retry.
		select {
		case <-ch:
		default:
		}
	}
}
