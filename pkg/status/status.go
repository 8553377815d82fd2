package status

import (
	"sync"

	"github.com/crewline/foreman/pkg/log"
)

// Bus is the outbound channel over which the engine publishes status
// messages. Delivery is best-effort at-most-once: a false return means
// the message was dropped and the engine carries on.
type Bus interface {
	Send(observerKey string, msg any) bool
}

// Message pairs an observer key with a protocol message
type Message struct {
	ObserverKey string
	Payload     any
}

// Subscriber is a channel that receives messages for its observer key
type Subscriber chan Message

// Broker is an in-memory Bus that fans messages out to subscribers.
// Subscribers with a full buffer miss messages rather than block the
// engine.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string][]Subscriber
	closed      bool
}

// NewBroker creates a new status broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string][]Subscriber),
	}
}

// Subscribe registers a new subscriber for an observer key
func (b *Broker) Subscribe(observerKey string) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[observerKey] = append(b.subscribers[observerKey], sub)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel
func (b *Broker) Unsubscribe(observerKey string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[observerKey]
	for i, s := range subs {
		if s == sub {
			b.subscribers[observerKey] = append(subs[:i], subs[i+1:]...)
			close(s)
			return
		}
	}
}

// Send delivers a message to every subscriber of the observer key.
// Returns true if at least one subscriber received it.
func (b *Broker) Send(observerKey string, msg any) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false
	}

	delivered := false
	for _, sub := range b.subscribers[observerKey] {
		select {
		case sub <- Message{ObserverKey: observerKey, Payload: msg}:
			delivered = true
		default:
			// Subscriber buffer full, skip
			logger := log.WithComponent("status")
			logger.Debug().
				Str("observer", observerKey).
				Msg("dropping status message for slow subscriber")
		}
	}
	return delivered
}

// SubscriberCount returns the number of active subscribers for a key
func (b *Broker) SubscriberCount(observerKey string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[observerKey])
}

// Close closes all subscriber channels and stops delivery
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for key, subs := range b.subscribers {
		for _, sub := range subs {
			close(sub)
		}
		delete(b.subscribers, key)
	}
}

// Nop is a Bus that discards every message. Useful for tests and for
// runs with no connected observers.
type Nop struct{}

// Send implements Bus
func (Nop) Send(string, any) bool { return false }
