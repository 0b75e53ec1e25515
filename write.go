package recache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyResult reports that a write collaborator settled successfully but
// returned no usable body, so nothing was folded into the cache.
var ErrEmptyResult = errors.New("recache: empty write result")

// definedResult reports whether a collaborator response carries a usable
// body. Empty and JSON-null bodies count as "no result".
func definedResult(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// Create sends entity to the remote collaborator and, on a non-empty
// result, folds the persisted form into the canonical map, so the full
// collection and the entity's per-key stream observe it without a manual
// refresh. The returned Result replays the persisted entity — or the
// failure — to every caller without re-invoking the collaborator.
func (c *Cache[T]) Create(entity T) *Result[T] {
	return c.write("create", entity, c.source.Create)
}

// Update behaves like Create for the update collaborator call.
func (c *Cache[T]) Update(entity T) *Result[T] {
	return c.write("update", entity, c.source.Update)
}

func (c *Cache[T]) write(op string, entity T, call func(context.Context, json.RawMessage) (json.RawMessage, error)) *Result[T] {
	var zero T
	res := newResult[T]()

	raw, err := json.Marshal(entity)
	if err != nil {
		res.resolve(zero, fmt.Errorf("recache: encode entity: %w", err))
		return res
	}

	c.loading.publish(true)
	started := c.spawn(func() {
		ctx := c.obs.OnWriteStart(c.ctx, op)
		start := time.Now()
		out, err := call(ctx, raw)
		c.obs.OnWriteComplete(ctx, op, time.Since(start), err)
		if err != nil {
			// Write failures are the caller's business, unlike fetch
			// failures: they propagate through the result.
			c.loading.publish(false)
			res.resolve(zero, fmt.Errorf("recache: %s: %w", op, err))
			return
		}
		if !definedResult(out) {
			c.loading.publish(false)
			res.resolve(zero, ErrEmptyResult)
			return
		}
		v, err := c.normalize(out)
		if err != nil {
			c.loading.publish(false)
			res.resolve(zero, err)
			return
		}
		c.send(foldEvent{origin: OriginEntityRefresh, entity: out})
		res.resolve(v, nil)
	})
	if !started {
		c.loading.publish(false)
		res.resolve(zero, ErrClosed)
	}
	return res
}

// Delete invokes the remote delete and, on a defined confirmation, folds a
// delete event for the entity's key. The returned Result replays the raw
// confirmation body.
func (c *Cache[T]) Delete(entity T) *Result[json.RawMessage] {
	res := newResult[json.RawMessage]()

	raw, err := json.Marshal(entity)
	if err != nil {
		res.resolve(nil, fmt.Errorf("recache: encode entity: %w", err))
		return res
	}
	key, err := keyOf(raw, c.keyField)
	if err != nil {
		res.resolve(nil, err)
		return res
	}

	c.loading.publish(true)
	started := c.spawn(func() {
		ctx := c.obs.OnWriteStart(c.ctx, "delete")
		start := time.Now()
		out, err := c.source.Delete(ctx, raw)
		c.obs.OnWriteComplete(ctx, "delete", time.Since(start), err)
		if err != nil {
			c.loading.publish(false)
			res.resolve(nil, fmt.Errorf("recache: delete: %w", err))
			return
		}
		if !definedResult(out) {
			c.loading.publish(false)
			res.resolve(nil, ErrEmptyResult)
			return
		}
		c.send(foldEvent{origin: OriginDelete, key: key})
		res.resolve(out, nil)
	})
	if !started {
		c.loading.publish(false)
		res.resolve(nil, ErrClosed)
	}
	return res
}
