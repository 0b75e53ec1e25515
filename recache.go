package recache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"
)

const (
	// defaultKeyField is the primary-key field used when no WithKeyField
	// option is given.
	defaultKeyField = "id"

	// defaultBuffer is the fold event channel depth.
	defaultBuffer = 64
)

// ErrClosed reports that an operation was issued after Close.
var ErrClosed = errors.New("recache: cache is closed")

// Entry is the per-key projection of the canonical map: the entity for a
// key, or an explicit absent marker.
type Entry[T any] struct {
	Value   T
	Present bool
}

// Option configures a Cache.
type Option[T any] func(*Cache[T])

// WithKeyField sets the primary-key field name, fixed at construction.
// The default is "id". The field is addressed as a gjson path.
func WithKeyField[T any](field string) Option[T] {
	return func(c *Cache[T]) {
		if field != "" {
			c.keyField = field
		}
	}
}

// WithLogger injects a structured logger. Defaults to slog.Default().
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(c *Cache[T]) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNormalize replaces the default raw-to-entity conversion (plain JSON
// decoding). The hook runs on every entity entering the cache: fetch
// results, write results, and notification payloads.
func WithNormalize[T any](fn func(json.RawMessage) (T, error)) Option[T] {
	return func(c *Cache[T]) {
		if fn != nil {
			c.normalize = fn
		}
	}
}

// WithPatch replaces the default shallow merge used for update
// notifications. The hook receives the cached entity and the partial
// payload and returns the patched entity; it is also the place to fold in
// any per-entity normalization of the patched result.
func WithPatch[T any](fn func(existing T, partial json.RawMessage) (T, error)) Option[T] {
	return func(c *Cache[T]) {
		if fn != nil {
			c.patch = fn
		}
	}
}

// WithObservability installs lifecycle callbacks (metrics, tracing).
func WithObservability[T any](obs Observability) Option[T] {
	return func(c *Cache[T]) {
		if obs != nil {
			c.obs = obs
		}
	}
}

// WithBuffer sets the fold event channel depth.
func WithBuffer[T any](n int) Option[T] {
	return func(c *Cache[T]) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// Cache is a reactive, in-memory entity cache. It folds four event sources
// — full refreshes, single-entity refreshes, delete confirmations, and
// external notifications — into one canonical key-to-entity map, and
// republishes immutable snapshots to subscribers of the whole collection or
// of single entities by key.
//
// Reads are deduplicated: any number of concurrent subscribers share one
// fetch and one derivation loop. Fetches are triggered lazily by the first
// subscriber and re-armed when the last one detaches; cached content is
// retained across that cycle for instant replay.
//
// Snapshots handed to subscribers are shared and must not be mutated.
type Cache[T any] struct {
	source    Source
	keyField  string
	normalize func(json.RawMessage) (T, error)
	patch     func(existing T, partial json.RawMessage) (T, error)
	logger    *slog.Logger
	obs       Observability
	buffer    int

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	events chan foldEvent

	mu      sync.Mutex
	closed  bool
	current map[string]T
	byKey   map[string]*stream[Entry[T]]

	all     *stream[map[string]T]
	loading *stream[bool]
}

// New creates a Cache over source and starts its derivation loop and
// notification pump. The cache holds no entities until the first
// subscriber or an explicit refresh triggers a fetch.
func New[T any](source Source, opts ...Option[T]) *Cache[T] {
	ctx, stop := context.WithCancel(context.Background())
	c := &Cache[T]{
		source:    source,
		keyField:  defaultKeyField,
		normalize: unmarshalRaw[T],
		patch:     shallowPatch[T],
		logger:    slog.Default(),
		obs:       NopObservability{},
		buffer:    defaultBuffer,
		ctx:       ctx,
		stop:      stop,
		current:   make(map[string]T),
		byKey:     make(map[string]*stream[Entry[T]]),
		all:       newStream[map[string]T](),
		loading:   newStream[bool](),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = make(chan foldEvent, c.buffer)
	c.all.seed(map[string]T{})
	c.loading.seed(false)

	// The full fetch is lazy: armed now, fired by the first collection
	// subscriber, re-armed whenever the count returns to zero.
	c.all.onFirst = c.RefreshAll

	c.wg.Add(2)
	go c.run()
	go c.pump()
	return c
}

// Close stops the derivation loop, the notification pump, and waits for
// in-flight collaborator calls to settle. Subscriptions are not drained;
// they simply stop receiving values. Operations issued after Close are
// no-ops (writes settle with ErrClosed).
func (c *Cache[T]) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.stop()
	c.wg.Wait()
}

// spawn runs fn on its own goroutine, tracked for Close. It reports false
// if the cache is already closed, in which case fn does not run. The
// closed check and the WaitGroup increment happen under one lock, so a
// spawn racing Close either registers before Wait starts or not at all.
func (c *Cache[T]) spawn(fn func()) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

// All returns the shared full-collection stream. The first subscriber
// triggers a full fetch; further concurrent subscribers share that fetch
// and the single derivation loop. Every new subscriber immediately receives
// the latest known map. Cancelling the last subscription tears down only
// the fetch trigger — cached content stays for the next subscriber.
func (c *Cache[T]) All() *Subscription[map[string]T] {
	return c.all.subscribe()
}

// Array returns the full collection projected to a slice, ordered by key.
// An Array subscription counts as full-collection interest: it is an All
// subscription with a projection goroutine on top.
func (c *Cache[T]) Array() *Subscription[[]T] {
	inner := c.all.subscribe()
	out := &Subscription[[]T]{ch: make(chan []T, sendBufSize)}
	done := make(chan struct{})
	out.cancel = func() {
		close(done)
		inner.Cancel()
	}

	go func() {
		for {
			select {
			case <-done:
				return
			case m := <-inner.C():
				arr := make([]T, 0, len(m))
				keys := make([]string, 0, len(m))
				for k := range m {
					keys = append(keys, k)
				}
				slices.Sort(keys)
				for _, k := range keys {
					arr = append(arr, m[k])
				}
				select {
				case out.ch <- arr:
				default:
				}
			}
		}
	}()
	return out
}

// ByKey returns the memoized per-key stream for key, projecting the single
// entity or an absent marker. On the first subscription for a key, a
// single-entity fetch is triggered unless a live full-collection
// subscription already holds the entity — then the cached value is served
// with no network round trip. When the key's subscriber count returns to
// zero the stream object is dropped and regenerated lazily on the next
// subscribe; the cached entity itself stays in the canonical map.
func (c *Cache[T]) ByKey(key string) *Subscription[Entry[T]] {
	for {
		c.mu.Lock()
		ks, ok := c.byKey[key]
		if !ok {
			ks = newStream[Entry[T]]()
			v, present := c.current[key]
			ks.seed(Entry[T]{Value: v, Present: present})
			ks.onFirst = func() { c.keyAttached(key) }
			ks.onLast = func() { c.keyDetached(key, ks) }
			c.byKey[key] = ks
		}
		c.mu.Unlock()

		sub := ks.subscribe()

		// A concurrent last-detach may have dropped ks from the registry
		// between the lookup and the attach. Recomputations only reach
		// registered streams, so an attach to a dropped one is re-done on
		// a live stream. Once the attach is confirmed, the subscription
		// itself keeps the stream registered: removal requires a zero
		// count.
		c.mu.Lock()
		registered := c.byKey[key] == ks
		c.mu.Unlock()
		if registered {
			return sub
		}
		sub.Cancel()
	}
}

// keyAttached decides whether a first per-key subscriber needs a network
// round trip: only a live full-collection subscription that already holds
// the entity can serve it from cache.
func (c *Cache[T]) keyAttached(key string) {
	c.mu.Lock()
	_, known := c.current[key]
	c.mu.Unlock()

	if known && c.all.count() > 0 {
		return
	}
	c.Refresh(key)
}

// keyDetached drops the per-key stream once its last subscriber leaves.
func (c *Cache[T]) keyDetached(key string, ks *stream[Entry[T]]) {
	c.mu.Lock()
	if c.byKey[key] == ks && ks.count() == 0 {
		delete(c.byKey, key)
	}
	c.mu.Unlock()
}

// Loading returns the coarse busy indicator: true while a public operation
// is in flight, false once it settles. This is not a reference count — when
// operations overlap, the first settlement publishes false even though
// another operation is still pending.
func (c *Cache[T]) Loading() *Subscription[bool] {
	return c.loading.subscribe()
}

// RefreshAll unconditionally fetches the entire collection and folds the
// result in as a full refresh, replacing the canonical map. A fetch failure
// is consumed here: it resets the loading signal and leaves state
// untouched.
func (c *Cache[T]) RefreshAll() {
	// Loading goes true before the fetch goroutine exists, so its false on
	// settlement can never be overtaken.
	c.loading.publish(true)
	started := c.spawn(func() {
		ctx := c.obs.OnFetchStart(c.ctx, ScopeCollection, "")
		start := time.Now()
		batch, err := c.source.FetchAll(ctx)
		c.obs.OnFetchComplete(ctx, ScopeCollection, "", time.Since(start), err)
		if err != nil {
			c.logger.Warn("recache: full fetch failed", "error", err)
			c.loading.publish(false)
			return
		}
		c.send(foldEvent{origin: OriginFullRefresh, batch: batch})
	})
	if !started {
		c.loading.publish(false)
	}
}

// Refresh unconditionally fetches the entity for key and folds the result
// in as an entity refresh. Failures are consumed like in RefreshAll.
func (c *Cache[T]) Refresh(key string) {
	c.loading.publish(true)
	started := c.spawn(func() {
		ctx := c.obs.OnFetchStart(c.ctx, ScopeEntity, key)
		start := time.Now()
		raw, err := c.source.Fetch(ctx, key)
		c.obs.OnFetchComplete(ctx, ScopeEntity, key, time.Since(start), err)
		if err != nil {
			c.logger.Warn("recache: entity fetch failed", "key", key, "error", err)
			c.loading.publish(false)
			return
		}
		c.send(foldEvent{origin: OriginEntityRefresh, entity: raw})
	})
	if !started {
		c.loading.publish(false)
	}
}

// InvalidateAll refreshes eagerly only where somebody is listening: with a
// live full-collection subscription it behaves as RefreshAll; otherwise
// each key with at least one subscriber is refreshed individually, and
// unwatched keys refresh lazily on their next subscription.
func (c *Cache[T]) InvalidateAll() {
	if c.all.count() > 0 {
		c.RefreshAll()
		return
	}

	c.mu.Lock()
	keys := make([]string, 0, len(c.byKey))
	for key, ks := range c.byKey {
		if ks.count() > 0 {
			keys = append(keys, key)
		}
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.Refresh(key)
	}
}

// Invalidate refreshes key only if it is being watched, directly or through
// a full-collection subscription. Otherwise it is a no-op: the stale entry
// refreshes lazily when the key is next subscribed.
func (c *Cache[T]) Invalidate(key string) {
	if c.all.count() > 0 {
		c.Refresh(key)
		return
	}

	c.mu.Lock()
	ks := c.byKey[key]
	c.mu.Unlock()

	if ks != nil && ks.count() > 0 {
		c.Refresh(key)
	}
}

// Snapshot returns the current canonical map: the same immutable snapshot
// subscribers receive. It must not be mutated. No fetch is triggered.
func (c *Cache[T]) Snapshot() map[string]T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Get returns the cached entity for key, if locally known. No fetch is
// triggered.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.current[key]
	return v, ok
}

// Len returns the number of cached entities.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.current)
}

// Stats is a point-in-time view of cache occupancy and subscriber
// interest, suitable for metrics collectors.
type Stats struct {
	// Entities is the canonical map size.
	Entities int
	// CollectionSubs counts live full-collection subscribers.
	CollectionSubs int
	// KeyStreams counts currently materialized per-key streams.
	KeyStreams int
	// KeySubs counts live per-key subscribers across all keys.
	KeySubs int
}

// Stats reports current occupancy and subscriber counts.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	s := Stats{
		Entities:   len(c.current),
		KeyStreams: len(c.byKey),
	}
	streams := make([]*stream[Entry[T]], 0, len(c.byKey))
	for _, ks := range c.byKey {
		streams = append(streams, ks)
	}
	c.mu.Unlock()

	for _, ks := range streams {
		s.KeySubs += ks.count()
	}
	s.CollectionSubs = c.all.count()
	return s
}
