// Package dispatch routes inbound relay frames to topic subscribers.
package dispatch

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/vantage-connect/internal/protocol"
)

// Callback handles one frame. A returned error or a panic is logged and does
// not stop delivery to other subscribers.
type Callback func(protocol.Envelope) error

type subscription struct {
	id int
	fn Callback
}

type Dispatcher struct {
	log *zap.Logger

	mu     sync.Mutex
	nextID int
	topics map[protocol.Action][]subscription
}

func New(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		log:    log.Named("dispatch"),
		topics: make(map[protocol.Action][]subscription),
	}
}

// Subscribe registers fn for topic. The returned func removes exactly this
// registration and is safe to call more than once.
func (d *Dispatcher) Subscribe(topic protocol.Action, fn Callback) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.topics[topic] = append(d.topics[topic], subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(topic, id) })
	}
}

func (d *Dispatcher) remove(topic protocol.Action, id int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.topics[topic]
	kept := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(d.topics, topic)
		return
	}
	d.topics[topic] = kept
}

// Publish invokes every callback registered for env.Action, in registration
// order. Callbacks run without the lock held, so they may subscribe or
// unsubscribe; such changes apply from the next frame on.
func (d *Dispatcher) Publish(env protocol.Envelope) {
	d.mu.Lock()
	subs := d.topics[env.Action]
	d.mu.Unlock()

	for _, s := range subs {
		if err := d.invoke(s, env); err != nil {
			d.log.Error("subscriber failed", zap.String("topic", string(env.Action)), zap.Int("subscription", s.id), zap.Error(err))
		}
	}
}

func (d *Dispatcher) invoke(s subscription, env protocol.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.fn(env)
}

// Subscribers reports how many callbacks are registered for topic.
func (d *Dispatcher) Subscribers(topic protocol.Action) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.topics[topic])
}
