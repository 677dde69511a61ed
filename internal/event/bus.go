// Package event fans decoded server events out to in-process consumers.
//
// The tool-calling layer subscribes here instead of decoding SSE itself:
// a Relay pumps one live api.EventStream into a Bus, and any number of
// subscribers react to events by name without holding the connection.
// The bus uses watermill's gochannel for infrastructure while keeping
// direct-call semantics so subscribers receive typed events.
package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/opencode-ai/opencode-client/internal/api"
)

// Topic is the watermill topic all relayed events are mirrored to.
const Topic = "opencode.events"

// Subscriber is a function that receives events.
type Subscriber func(evt api.Event)

// subscriberEntry wraps a subscriber with an ID so it can unsubscribe.
type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus dispatches events to subscribers by SSE event name.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	byName map[string][]subscriberEntry
	global []subscriberEntry

	nextID uint64
	closed bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		byName: make(map[string][]subscriberEntry),
	}
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a subscriber for one event name.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(name string, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.byName[name] = append(b.byName[name], subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribe(name, id)
	}
}

// SubscribeAll registers a subscriber for every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribeGlobal(id)
	}
}

func (b *Bus) unsubscribe(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.byName[name]
	for i, entry := range subs {
		if entry.id == id {
			b.byName[name] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			break
		}
	}
}

// Publish delivers an event to all matching subscribers synchronously,
// in the caller's goroutine, preserving the stream's ordering.
func (b *Bus) Publish(evt api.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]Subscriber, 0, len(b.byName[evt.Name])+len(b.global))
	for _, entry := range b.byName[evt.Name] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	pubsub := b.pubsub
	b.mu.RUnlock()

	for _, sub := range subs {
		sub(evt)
	}

	// Mirror onto the watermill topic for middleware and raw consumers.
	if payload, err := json.Marshal(evt); err == nil {
		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.Metadata.Set("event", evt.Name)
		_ = pubsub.Publish(Topic, msg)
	}
}

// Messages exposes the raw watermill subscription for the mirrored topic.
func (b *Bus) Messages(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, Topic)
}

// Close shuts the bus down; further subscribes and publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.byName = make(map[string][]subscriberEntry)
	b.global = nil
	_ = b.pubsub.Close()
}
