// Package memory implements an in-process publish/subscribe Capability,
// naming its two directional channels call_<token> and reply_<token> exactly
// as the reference daemon's common-event bus does. It backs unit tests, the
// end-to-end round-trip scenario, and any same-process demo; it carries no
// third-party dependency, following the teacher's plain mutex+map idiom for
// its in-memory cache.
package memory

import (
	"sync"

	"github.com/synaptic-tools/uitransact/core/message"
	"github.com/synaptic-tools/uitransact/core/transceiver"
)

type subscriber struct {
	id int64
	fn func(message.TransactionMessage)
}

// Broker fans messages out by action name. One Broker is shared by every
// client/server pair that needs to talk to each other in a process.
type Broker struct {
	mu     sync.Mutex
	subs   map[string][]subscriber
	nextID int64
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string][]subscriber)}
}

func (b *Broker) subscribe(action string, fn func(message.TransactionMessage)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[action] = append(b.subs[action], subscriber{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[action]
		for i, s := range list {
			if s.id == id {
				b.subs[action] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}

func (b *Broker) publish(action string, m message.TransactionMessage) {
	b.mu.Lock()
	list := append([]subscriber(nil), b.subs[action]...)
	b.mu.Unlock()

	// Delivered off the caller's goroutine so Emit never blocks on a slow
	// or reentrant subscriber.
	for _, s := range list {
		go s.fn(m)
	}
}

type capability struct {
	broker      *Broker
	emitAction  string
	recvAction  string
	mu          sync.Mutex
	unsubscribe func()
}

func (c *capability) Subscribe(onReceive func(message.TransactionMessage)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribe = c.broker.subscribe(c.recvAction, onReceive)
	return nil
}

func (c *capability) Emit(m message.TransactionMessage) error {
	c.broker.publish(c.emitAction, m)
	return nil
}

func (c *capability) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	return nil
}

// NewClientCapability returns the client-side endpoint of the token's
// channel pair: it emits on call_<token> and receives on reply_<token>.
func NewClientCapability(b *Broker, token string) transceiver.Capability {
	return &capability{broker: b, emitAction: "call_" + token, recvAction: "reply_" + token}
}

// NewServerCapability returns the server-side endpoint of the token's
// channel pair: it receives on call_<token> and emits on reply_<token>.
func NewServerCapability(b *Broker, token string) transceiver.Capability {
	return &capability{broker: b, emitAction: "reply_" + token, recvAction: "call_" + token}
}
