// Package cache is a keyed store of server resources with two mutation
// styles: Invalidate marks an entry stale and refetches it in the background,
// Patch rewrites the cached value synchronously without a round trip.
//
// A failed refetch never clears good data: the previous value stays and the
// entry carries the error until the next successful fetch.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/messenger-client/internal/logger"
)

type Kind string

const (
	KindConversations Kind = "conversations"
	KindMessages      Kind = "messages"
	KindOnlineUsers   Kind = "onlineUsers"
	KindProfile       Kind = "profile"
	KindUserProfile   Kind = "userProfile"
	KindSettings      Kind = "settings"
)

// Key is a resource kind plus a discriminator (conversation id, user id, or 0).
type Key struct {
	Kind Kind
	ID   int64
}

func (k Key) String() string {
	if k.ID == 0 {
		return string(k.Kind)
	}
	return fmt.Sprintf("%s/%d", k.Kind, k.ID)
}

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Entry is a snapshot of one cached resource.
type Entry struct {
	Data      any
	Status    Status
	Err       error
	UpdatedAt time.Time
	Stale     bool
	Fetching  bool
}

// HasData reports whether a value has ever been stored.
func (e Entry) HasData() bool { return e.Data != nil }

type Fetcher func(ctx context.Context, key Key) (any, error)

var (
	ErrNoFetcher = errors.New("cache: no fetcher registered")
	ErrClosed    = errors.New("cache: closed")
)

// maxRefetchRounds bounds how many times one flight re-runs when
// invalidations keep arriving while it is fetching.
const maxRefetchRounds = 5

type entry struct {
	Entry
	gen uint64
	// doneGen is the gen the last finished fetch started from.
	doneGen uint64
	active  bool
}

type Cache struct {
	mu       sync.Mutex
	entries  map[Key]*entry
	fetchers map[Kind]Fetcher
	epoch    uint64

	group        singleflight.Group
	fetchTimeout time.Duration
	onFetch      func(kind Kind, err error)

	subMu sync.Mutex
	subs  map[chan Key]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Cache)

func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) { c.fetchTimeout = d }
}

// WithFetchHook is called after every fetch attempt (metrics).
func WithFetchHook(fn func(kind Kind, err error)) Option {
	return func(c *Cache) { c.onFetch = fn }
}

func New(opts ...Option) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		entries:      make(map[Key]*entry),
		fetchers:     make(map[Kind]Fetcher),
		fetchTimeout: 15 * time.Second,
		subs:         make(map[chan Key]struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register sets the fetcher used for every key of kind.
func (c *Cache) Register(kind Kind, f Fetcher) {
	c.mu.Lock()
	c.fetchers[kind] = f
	c.mu.Unlock()
}

// Get returns the entry for key and marks it active. A missing entry is
// fetched before returning; a stale one is returned as is and refetched in
// the background.
func (c *Cache) Get(ctx context.Context, key Key) (Entry, error) {
	c.mu.Lock()
	e := c.entryLocked(key)
	e.active = true
	hasData := e.Data != nil
	stale := e.Stale
	snap := e.Entry
	c.mu.Unlock()

	if hasData {
		if stale {
			c.refetchAsync(key)
		}
		return snap, nil
	}
	if err := c.fetchWait(ctx, key); err != nil {
		return c.snapshot(key), err
	}
	snap = c.snapshot(key)
	return snap, snap.Err
}

// Peek returns the current entry without fetching.
func (c *Cache) Peek(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry{Status: StatusIdle}, false
	}
	return e.Entry, true
}

// Invalidate marks key stale. If the key has been read it is refetched in
// the background; otherwise the next Get refetches it.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.gen++
	e.Stale = true
	active := e.active
	c.mu.Unlock()

	c.notify(key)
	if active {
		c.refetchAsync(key)
	}
}

// InvalidateKind invalidates every cached key of kind.
func (c *Cache) InvalidateKind(kind Kind) {
	c.mu.Lock()
	keys := make([]Key, 0, 4)
	for k := range c.entries {
		if k.Kind == kind {
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()
	for _, k := range keys {
		c.Invalidate(k)
	}
}

// Set stores data as fresh. An in-flight fetch for key is discarded in favor of it.
func (c *Cache) Set(key Key, data any) {
	c.mu.Lock()
	e := c.entryLocked(key)
	e.gen++
	e.Data = data
	e.Status = StatusSuccess
	e.Err = nil
	e.Stale = false
	e.UpdatedAt = time.Now()
	c.mu.Unlock()
	c.notify(key)
}

// Patch rewrites the cached value with fn. fn receives the current value and
// returns the replacement and whether anything changed. A key with no data is
// left untouched. fn must not mutate its argument.
func (c *Cache) Patch(key Key, fn func(old any) (any, bool)) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.Data == nil {
		c.mu.Unlock()
		return false
	}
	next, changed := fn(e.Data)
	if !changed {
		c.mu.Unlock()
		return false
	}
	// An in-flight fetch may have read the server before this change: bump
	// gen so it refetches instead of overwriting the patch with older data.
	e.gen++
	e.Data = next
	e.UpdatedAt = time.Now()
	c.mu.Unlock()
	c.notify(key)
	return true
}

// Remove drops key entirely.
func (c *Cache) Remove(key Key) {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()
	if ok {
		c.notify(key)
	}
}

// Reset drops every entry. Fetches that were in flight are discarded on completion.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.epoch++
	keys := make([]Key, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.entries = make(map[Key]*entry)
	c.mu.Unlock()
	for _, k := range keys {
		c.notify(k)
	}
}

// Keys lists cached keys of kind.
func (c *Cache) Keys(kind Kind) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Key, 0, 4)
	for k := range c.entries {
		if k.Kind == kind {
			out = append(out, k)
		}
	}
	return out
}

// Subscribe returns a feed of changed keys and a cancel func. Slow
// subscribers lose notifications rather than block writers.
func (c *Cache) Subscribe() (<-chan Key, func()) {
	ch := make(chan Key, 64)
	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()
	return ch, func() {
		c.subMu.Lock()
		delete(c.subs, ch)
		c.subMu.Unlock()
	}
}

// Close stops background refetches and waits for them to exit.
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Cache) entryLocked(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{Entry: Entry{Status: StatusIdle}}
		c.entries[key] = e
	}
	return e
}

func (c *Cache) snapshot(key Key) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.Entry
	}
	return Entry{Status: StatusIdle}
}

func (c *Cache) notify(key Key) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- key:
		default:
			logger.Debugf("cache: subscriber full, dropped %s", key)
		}
	}
}

func (c *Cache) refetchAsync(key Key) {
	if c.ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		// An invalidation that joined a flight after its last fetch had
		// finished is not covered by it: run one more flight.
		for flight := 0; flight < 2; flight++ {
			c.group.Do(key.String(), func() (any, error) {
				c.runFetch(key)
				return nil, nil
			})
			if !c.missedInvalidation(key) {
				return
			}
		}
	}()
}

// missedInvalidation reports an active key invalidated after its last fetch
// started and with no fetch running now.
func (c *Cache) missedInvalidation(key Key) bool {
	if c.ctx.Err() != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && e.active && e.Stale && !e.Fetching && e.gen != e.doneGen
}

func (c *Cache) fetchWait(ctx context.Context, key Key) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	ch := c.group.DoChan(key.String(), func() (any, error) {
		c.runFetch(key)
		return nil, nil
	})
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runFetch fetches key until no invalidation or patch raced with the fetch,
// bounded by maxRefetchRounds.
func (c *Cache) runFetch(key Key) {
	defer logger.DeferLogDuration("cache.fetch "+key.String(), time.Now())()

	for round := 1; ; round++ {
		c.mu.Lock()
		fetch, ok := c.fetchers[key.Kind]
		e := c.entryLocked(key)
		gen, epoch := e.gen, c.epoch
		e.Fetching = true
		if e.Data == nil {
			e.Status = StatusLoading
		}
		c.mu.Unlock()

		if !ok {
			c.finish(key, gen, epoch, nil, ErrNoFetcher, true)
			return
		}

		ctx, cancel := context.WithTimeout(c.ctx, c.fetchTimeout)
		data, err := fetch(ctx, key)
		cancel()
		if c.onFetch != nil {
			c.onFetch(key.Kind, err)
		}

		last := round >= maxRefetchRounds || c.ctx.Err() != nil
		if c.finish(key, gen, epoch, data, err, last) {
			return
		}
	}
}

// finish stores a fetch result and reports whether the flight is done.
func (c *Cache) finish(key Key, gen, epoch uint64, data any, err error, last bool) bool {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return true
	}
	e := c.entryLocked(key)
	if err != nil {
		e.doneGen = gen
		e.Fetching = false
		e.Status = StatusError
		e.Err = err
		c.mu.Unlock()
		logger.Errorf("cache: fetch %s: %v", key, err)
		c.notify(key)
		return true
	}
	if e.gen != gen && !last {
		c.mu.Unlock()
		return false
	}
	e.doneGen = gen
	e.Fetching = false
	e.Data = data
	e.Status = StatusSuccess
	e.Err = nil
	e.Stale = e.gen != gen
	e.UpdatedAt = time.Now()
	c.mu.Unlock()
	c.notify(key)
	return true
}
