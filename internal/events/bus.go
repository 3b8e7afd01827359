// Package events is the in-process channel through which the data layer announces
// queue and network activity.
package events

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/campusync/pkg/logger"
)

// Wildcard subscribes to every event.
const Wildcard = "*"

// Event names published outside the queue package.
const (
	NetworkStatus     = "network.status"
	CollectionChanged = "collection.changed"
)

// Event is a published notification.
type Event struct {
	Name    string    `json:"name"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Handler consumes events.
type Handler func(Event)

type subscription struct {
	id      uint64
	name    string
	handler Handler
}

// Bus delivers events synchronously to the handlers subscribed to their name.
// It is safe for concurrent use.
type Bus struct {
	log *zap.Logger
	now func() time.Time

	mu     sync.RWMutex
	subs   map[string]map[uint64]subscription
	nextID uint64
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{
		log:  logger.WithModule("events"),
		now:  time.Now,
		subs: make(map[string]map[uint64]subscription),
	}
}

// Subscribe registers handler for name, or for everything with Wildcard. The returned
// function removes the subscription.
func (b *Bus) Subscribe(name string, handler Handler) func() {
	name = strings.TrimSpace(name)
	if name == "" || handler == nil {
		return func() {}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[name] == nil {
		b.subs[name] = make(map[uint64]subscription)
	}
	b.subs[name][id] = subscription{id: id, name: name, handler: handler}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[name], id)
			if len(b.subs[name]) == 0 {
				delete(b.subs, name)
			}
		})
	}
}

// Publish delivers payload to every matching handler in subscription order. A
// panicking handler is logged and skipped.
func (b *Bus) Publish(name string, payload any) {
	if b == nil {
		return
	}
	event := Event{Name: name, Payload: payload, At: b.now()}
	for _, sub := range b.matching(name) {
		b.deliver(sub, event)
	}
}

// Subscribers reports how many handlers would receive name.
func (b *Bus) Subscribers(name string) int {
	return len(b.matching(name))
}

func (b *Bus) matching(name string) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]subscription, 0, len(b.subs[name])+len(b.subs[Wildcard]))
	for _, sub := range b.subs[name] {
		out = append(out, sub)
	}
	if name != Wildcard {
		for _, sub := range b.subs[Wildcard] {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (b *Bus) deliver(sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				zap.String("event", event.Name),
				zap.String("subscription", sub.name),
				zap.Any("panic", r),
			)
		}
	}()
	sub.handler(event)
}
