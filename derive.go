package recache

import (
	"encoding/json"
	"maps"
)

// foldEvent is one unit of work for the derivation loop. origin selects
// which payload field is meaningful.
type foldEvent struct {
	origin string
	batch  []json.RawMessage // OriginFullRefresh
	entity json.RawMessage   // OriginEntityRefresh
	key    string            // OriginDelete
	notif  Notification      // OriginNotification
}

// run is the derivation loop: the single writer of the canonical map. All
// four event sources funnel through one channel, so recomputations are
// strictly ordered by arrival and never concurrent with each other.
func (c *Cache[T]) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.events:
			c.fold(ev)
		}
	}
}

// send enqueues a fold event unless the cache has been closed.
func (c *Cache[T]) send(ev foldEvent) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

// fold applies one event, swaps in the resulting snapshot, and republishes.
// Every recomputation also clears the loading signal: the event that
// reached the fold is the settled continuation of whichever operation
// produced it.
func (c *Cache[T]) fold(ev foldEvent) {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	next, err := c.next(current, ev)
	if err != nil {
		c.logger.Warn("recache: fold event dropped",
			"origin", ev.origin, "error", err)
		c.loading.publish(false)
		return
	}

	c.mu.Lock()
	c.current = next
	keyStreams := maps.Clone(c.byKey)
	c.mu.Unlock()

	c.all.publish(next)
	for key, ks := range keyStreams {
		v, ok := next[key]
		ks.publish(Entry[T]{Value: v, Present: ok})
	}

	c.obs.OnApply(ev.origin, len(next))
	c.loading.publish(false)
}

// next computes the successor map for one event. current is never mutated;
// a failure (including one entity of a full-refresh batch) leaves the map
// unchanged — there is no partial application.
func (c *Cache[T]) next(current map[string]T, ev foldEvent) (map[string]T, error) {
	switch ev.origin {
	case OriginFullRefresh:
		// A full refresh replaces, it does not merge.
		next := make(map[string]T, len(ev.batch))
		for _, raw := range ev.batch {
			key, err := keyOf(raw, c.keyField)
			if err != nil {
				return nil, err
			}
			v, err := c.normalize(raw)
			if err != nil {
				return nil, err
			}
			next[key] = v
		}
		return next, nil

	case OriginEntityRefresh:
		key, err := keyOf(ev.entity, c.keyField)
		if err != nil {
			return nil, err
		}
		v, err := c.normalize(ev.entity)
		if err != nil {
			return nil, err
		}
		next := maps.Clone(current)
		next[key] = v
		return next, nil

	case OriginDelete:
		next := maps.Clone(current)
		delete(next, ev.key)
		return next, nil

	default:
		return c.applyNotification(current, ev.notif)
	}
}

// pump forwards the collaborator's notification feed into the fold. It
// lives from construction to Close; a feed that ends early leaves the
// cache serving its last known state.
func (c *Cache[T]) pump() {
	defer c.wg.Done()

	ch, err := c.source.Notifications(c.ctx)
	if err != nil {
		c.logger.Warn("recache: notification feed unavailable", "error", err)
		return
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				c.logger.Debug("recache: notification feed closed")
				return
			}
			c.send(foldEvent{origin: OriginNotification, notif: n})
		}
	}
}
