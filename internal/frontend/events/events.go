// Package events is a typed, synchronous publish/subscribe bus for the
// frontend. Views use it to react to each other's mutations without
// knowing each other's cache keys.
package events

import (
	"reflect"
	"sync"
)

// Action names a connection mutation.
type Action string

const (
	ActionSend   Action = "send"
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
	ActionRemove Action = "remove"
)

// GraphChanged is published after a connection mutation succeeds.
// UserID is set for send and remove, RequestID for accept and reject.
type GraphChanged struct {
	UserID    string
	RequestID string
	Action    Action
}

// SessionChanged is published after login and logout.
type SessionChanged struct {
	UserID   string
	LoggedIn bool
}

type handler struct {
	id uint64
	fn any
}

// Bus delivers each event to the subscribers of its type, in subscription
// order, on the publishing goroutine.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[reflect.Type][]handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[reflect.Type][]handler)}
}

// Subscribe registers fn for events of type E.
func Subscribe[E any](b *Bus, fn func(E)) (unsubscribe func()) {
	t := reflect.TypeOf((*E)(nil)).Elem()

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[t] = append(b.handlers[t], handler{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			hs := b.handlers[t]
			for i, h := range hs {
				if h.id == id {
					b.handlers[t] = append(hs[:i:i], hs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers e to every current subscriber of E. Handlers may
// subscribe, unsubscribe or publish; changes apply to later publishes.
func Publish[E any](b *Bus, e E) {
	b.mu.Lock()
	hs := b.handlers[reflect.TypeOf((*E)(nil)).Elem()]
	b.mu.Unlock()

	for _, h := range hs {
		h.fn.(func(E))(e)
	}
}
