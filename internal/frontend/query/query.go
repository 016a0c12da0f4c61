// Package query is a keyed request-result cache with invalidation and
// last-write-wins ordering per key.
//
// Each fetch for a key takes the next sequence number. A result is stored
// only if its sequence is still the key's latest, so a response that
// arrives after a newer fetch started, or after an invalidation, is
// returned to its callers but never cached. Concurrent reads of a key
// share one in-flight request.
package query

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	ErrClosed       = errors.New("query client closed")
	ErrNoFetcher    = errors.New("no fetcher registered for key")
	ErrTypeMismatch = errors.New("cached value has a different type")
)

// Key identifies a cached query, e.g. {"connectionStatus", userID}.
type Key []string

func (k Key) String() string { return strings.Join(k, "/") }

// id is the map key. \x1f cannot appear in the IDs and names used as parts.
func (k Key) id() string { return strings.Join(k, "\x1f") }

// HasPrefix reports whether k starts with every part of p.
func (k Key) HasPrefix(p Key) bool {
	if len(p) > len(k) {
		return false
	}
	for i := range p {
		if k[i] != p[i] {
			return false
		}
	}
	return true
}

// Status is the lifecycle state of one entry.
type Status string

const (
	StatusIdle    Status = "idle"    // never fetched, or torn down
	StatusLoading Status = "loading" // first fetch in flight, no data yet
	StatusSuccess Status = "success"
	StatusError   Status = "error" // last fetch failed; earlier data may remain
)

// State is a snapshot of one entry.
type State[T any] struct {
	Status    Status
	Data      T
	HasData   bool
	Err       error
	FetchedAt time.Time
	Fetching  bool // a fetch is in flight, including background refetches
	Stale     bool // invalidated since the last successful fetch
}

type fetcher func(context.Context) (any, error)

type entry struct {
	key       Key
	data      any
	hasData   bool
	err       error
	status    Status
	fetchedAt time.Time
	stale     bool
	seq       uint64 // latest started fetch or invalidation
	inflight  uint64 // sequence of the running fetch, 0 if none
	fetch     fetcher
}

type observer struct {
	id     uint64
	prefix Key
	fn     func(Key)
}

// Client is the process-wide cache. The zero value is not usable; call New.
type Client struct {
	mu        sync.Mutex
	entries   map[string]*entry
	observers []observer
	nextObs   uint64
	closed    bool
	seq       uint64 // shared by all keys so a Reset never reuses a number

	group     singleflight.Group
	staleTime time.Duration
	now       func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithStaleTime makes data older than d refetch on the next Fetch.
// Zero, the default, serves cached data until it is invalidated.
func WithStaleTime(d time.Duration) Option {
	return func(c *Client) { c.staleTime = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates an empty cache.
func New(opts ...Option) *Client {
	c := &Client{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch returns cached data for key when it is fresh, otherwise it calls fn
// and caches the result. fn becomes the key's fetcher for Refetch.
func Fetch[T any](ctx context.Context, c *Client, key Key, fn func(context.Context) (T, error)) (T, error) {
	v, err := c.fetch(ctx, key, func(ctx context.Context) (any, error) { return fn(ctx) }, false)
	return typed[T](key, v, err)
}

// Refetch forces a fetch of key with its last registered fetcher. A fetch
// already in flight that has not been superseded is joined instead.
func (c *Client) Refetch(ctx context.Context, key Key) error {
	_, err := c.fetch(ctx, key, nil, true)
	return err
}

func typed[T any](key Key, v any, err error) (T, error) {
	var zero T
	if err != nil || v == nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s holds %T", ErrTypeMismatch, key, v)
	}
	return t, nil
}

func (c *Client) fetch(ctx context.Context, key Key, fn fetcher, force bool) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e := c.entryLocked(key)
	if fn != nil {
		e.fetch = fn
	}
	if e.fetch == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoFetcher, key)
	}
	if !force && e.hasData && !e.stale && c.freshLocked(e) {
		data := e.data
		c.mu.Unlock()
		return data, nil
	}

	seq := e.inflight
	started := false
	if seq == 0 || seq != e.seq {
		seq = c.nextSeqLocked()
		e.seq = seq
		e.inflight = seq
		if !e.hasData {
			e.status = StatusLoading
		}
		started = true
	}
	run := e.fetch
	var notify []func(Key)
	if started {
		notify = c.observersLocked(key)
	}
	c.mu.Unlock()
	c.emit(key, notify)

	ch := c.group.DoChan(key.id()+"@"+strconv.FormatUint(seq, 10), func() (any, error) {
		// The shared fetch outlives any single caller's cancellation.
		v, err := run(context.WithoutCancel(ctx))
		c.store(key, seq, v, err)
		return v, err
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// store records a finished fetch if it is still the latest for key.
func (c *Client) store(key Key, seq uint64, v any, err error) {
	c.mu.Lock()
	e, ok := c.entries[key.id()]
	if !ok || c.closed {
		c.mu.Unlock()
		return
	}
	if e.inflight == seq {
		e.inflight = 0
	}
	if e.seq != seq {
		// Superseded. Drop the loading state if nothing replaced it.
		if e.inflight == 0 && e.status == StatusLoading {
			e.status = StatusIdle
		}
		notify := c.observersLocked(key)
		c.mu.Unlock()
		c.emit(key, notify)
		return
	}

	if err != nil {
		e.err = err
		e.status = StatusError
	} else {
		e.data = v
		e.hasData = true
		e.err = nil
		e.status = StatusSuccess
		e.fetchedAt = c.now()
		e.stale = false
	}
	notify := c.observersLocked(key)
	c.mu.Unlock()
	c.emit(key, notify)
}

func (c *Client) nextSeqLocked() uint64 {
	c.seq++
	return c.seq
}

func (c *Client) freshLocked(e *entry) bool {
	return c.staleTime <= 0 || c.now().Sub(e.fetchedAt) < c.staleTime
}

func (c *Client) entryLocked(key Key) *entry {
	id := key.id()
	e, ok := c.entries[id]
	if !ok {
		e = &entry{key: append(Key(nil), key...), status: StatusIdle}
		c.entries[id] = e
	}
	return e
}

// Invalidate marks every entry under prefix stale and supersedes its
// in-flight fetch. The next Fetch goes to the fetcher. It returns the number
// of entries marked.
func (c *Client) Invalidate(prefix Key) int {
	c.mu.Lock()
	var keys []Key
	for _, e := range c.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		e.stale = true
		e.seq = c.nextSeqLocked()
		keys = append(keys, e.key)
	}
	c.mu.Unlock()

	for _, k := range keys {
		c.mu.Lock()
		notify := c.observersLocked(k)
		c.mu.Unlock()
		c.emit(k, notify)
	}
	return len(keys)
}

// SetData stores v for key as a successful result, superseding any fetch in flight.
func SetData[T any](c *Client, key Key, v T) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	e := c.entryLocked(key)
	e.seq = c.nextSeqLocked()
	e.data = v
	e.hasData = true
	e.err = nil
	e.status = StatusSuccess
	e.fetchedAt = c.now()
	e.stale = false
	notify := c.observersLocked(key)
	c.mu.Unlock()
	c.emit(key, notify)
}

// GetState snapshots key. Data is the zero value when absent or of another type.
func GetState[T any](c *Client, key Key) State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.id()]
	if !ok {
		return State[T]{Status: StatusIdle}
	}
	s := State[T]{
		Status:    e.status,
		Err:       e.err,
		FetchedAt: e.fetchedAt,
		Fetching:  e.inflight != 0,
		Stale:     e.stale,
	}
	if e.hasData {
		if v, ok := e.data.(T); ok {
			s.Data = v
			s.HasData = true
		}
	}
	return s
}

// Observe calls fn with the changed key whenever an entry under prefix
// changes. fn runs on the goroutine that made the change, outside the lock.
func (c *Client) Observe(prefix Key, fn func(Key)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextObs++
	id := c.nextObs
	c.observers = append(c.observers, observer{id: id, prefix: append(Key(nil), prefix...), fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, o := range c.observers {
				if o.id == id {
					c.observers = append(c.observers[:i], c.observers[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Client) observersLocked(key Key) []func(Key) {
	var fns []func(Key)
	for _, o := range c.observers {
		if key.HasPrefix(o.prefix) {
			fns = append(fns, o.fn)
		}
	}
	return fns
}

func (c *Client) emit(key Key, fns []func(Key)) {
	for _, fn := range fns {
		fn(key)
	}
}

// Reset drops every entry, e.g. on logout. Fetches in flight finish but
// their results are discarded. Observers stay registered and are told.
func (c *Client) Reset() {
	c.mu.Lock()
	keys := make([]Key, 0, len(c.entries))
	for _, e := range c.entries {
		keys = append(keys, e.key)
	}
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	for _, k := range keys {
		c.mu.Lock()
		notify := c.observersLocked(k)
		c.mu.Unlock()
		c.emit(k, notify)
	}
}

// Close drops every entry and observer. Later fetches return ErrClosed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.entries = make(map[string]*entry)
	c.observers = nil
}
