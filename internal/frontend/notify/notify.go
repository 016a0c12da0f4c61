// Package notify delivers transient user-facing messages (toasts).
package notify

import (
	"sync"
	"time"
)

// Notifier shows success and error toasts.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// Kind distinguishes success from error toasts.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Toast is one shown message.
type Toast struct {
	ID      uint64
	Kind    Kind
	Message string
	Shown   time.Time
}

// DefaultTTL is how long a toast stays active.
const DefaultTTL = 4 * time.Second

// Toaster keeps toasts until they expire. The zero value is not usable; call NewToaster.
type Toaster struct {
	mu     sync.Mutex
	ttl    time.Duration
	nextID uint64
	active []Toast
	timers map[uint64]*time.Timer
	closed bool
	onExp  func(Toast)
}

// ToasterOption configures a Toaster.
type ToasterOption func(*Toaster)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) ToasterOption {
	return func(t *Toaster) { t.ttl = d }
}

// OnExpire is called, outside the lock, when a toast times out.
func OnExpire(fn func(Toast)) ToasterOption {
	return func(t *Toaster) { t.onExp = fn }
}

func NewToaster(opts ...ToasterOption) *Toaster {
	t := &Toaster{ttl: DefaultTTL, timers: make(map[uint64]*time.Timer)}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Toaster) Success(msg string) { t.push(KindSuccess, msg) }
func (t *Toaster) Error(msg string)   { t.push(KindError, msg) }

func (t *Toaster) push(kind Kind, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.nextID++
	toast := Toast{ID: t.nextID, Kind: kind, Message: msg, Shown: time.Now()}
	t.active = append(t.active, toast)
	t.timers[toast.ID] = time.AfterFunc(t.ttl, func() { t.expire(toast.ID) })
}

func (t *Toaster) expire(id uint64) {
	t.mu.Lock()
	var gone *Toast
	for i, a := range t.active {
		if a.ID == id {
			gone = &a
			t.active = append(t.active[:i], t.active[i+1:]...)
			break
		}
	}
	delete(t.timers, id)
	fn := t.onExp
	t.mu.Unlock()

	if gone != nil && fn != nil {
		fn(*gone)
	}
}

// Active returns the unexpired toasts, oldest first.
func (t *Toaster) Active() []Toast {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Toast(nil), t.active...)
}

// Dismiss removes a toast before it expires.
func (t *Toaster) Dismiss(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tm, ok := t.timers[id]; ok {
		tm.Stop()
		delete(t.timers, id)
	}
	for i, a := range t.active {
		if a.ID == id {
			t.active = append(t.active[:i], t.active[i+1:]...)
			return
		}
	}
}

// Close stops every pending timer and drops the active toasts.
func (t *Toaster) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, tm := range t.timers {
		tm.Stop()
		delete(t.timers, id)
	}
	t.active = nil
}

// Multi fans every toast out to each notifier in order.
type Multi []Notifier

func (m Multi) Success(msg string) {
	for _, n := range m {
		n.Success(msg)
	}
}

func (m Multi) Error(msg string) {
	for _, n := range m {
		n.Error(msg)
	}
}

// Discard drops every toast.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Success(string) {}
func (discard) Error(string)   {}
