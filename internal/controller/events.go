package controller

import (
	"time"

	"github.com/kelindar/event"
)

// TypeStateChanged identifies StateChanged on the event bus.
const TypeStateChanged uint32 = 0x1c5001

// StateChanged is published on every controller transition. Crashed is set
// when a running worker exited without being asked to, Detached when it was
// left running for a later daemon to adopt.
type StateChanged struct {
	Service  string    `json:"service"`
	From     State     `json:"from"`
	To       State     `json:"to"`
	RunID    string    `json:"run_id,omitempty"`
	Crashed  bool      `json:"crashed,omitempty"`
	Detached bool      `json:"detached,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Type implements event.Event.
func (StateChanged) Type() uint32 { return TypeStateChanged }

// Bus delivers StateChanged events to observers. Delivery is asynchronous
// and ordered per subscriber.
type Bus struct {
	dispatcher *event.Dispatcher
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish sends ev to every subscriber. A nil bus drops it.
func (b *Bus) Publish(ev StateChanged) {
	if b == nil {
		return
	}
	event.Publish(b.dispatcher, ev)
}

// Subscribe registers handler and returns a function that unsubscribes it.
func (b *Bus) Subscribe(handler func(StateChanged)) func() {
	return event.Subscribe(b.dispatcher, handler)
}

// SubscribeChan forwards events to ch, dropping them when ch is full.
func (b *Bus) SubscribeChan(ch chan<- StateChanged) func() {
	return event.Subscribe(b.dispatcher, func(ev StateChanged) {
		select {
		case ch <- ev:
		default:
		}
	})
}

// Close stops delivery to all subscribers.
func (b *Bus) Close() error {
	return b.dispatcher.Close()
}
