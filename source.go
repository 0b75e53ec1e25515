package recache

import (
	"context"
	"encoding/json"
)

// Source is the remote collaborator a Cache sits in front of. All calls are
// one-shot request/response exchanges except Notifications, which opens an
// indefinite push stream of change messages.
//
// Entities cross the boundary in raw JSON form; the cache normalizes them
// into the entity type on arrival (see WithNormalize). Implementations are
// responsible for their own retries, auth, and transport concerns — the
// cache adds none.
type Source interface {
	// FetchAll returns the entire collection.
	FetchAll(ctx context.Context) ([]json.RawMessage, error)

	// Fetch returns a single entity by key.
	Fetch(ctx context.Context, key string) (json.RawMessage, error)

	// Create persists a new entity and returns its persisted form.
	// An empty or JSON-null body means the write produced no usable result.
	Create(ctx context.Context, entity json.RawMessage) (json.RawMessage, error)

	// Update persists changes to an entity and returns its persisted form.
	// An empty or JSON-null body means the write produced no usable result.
	Update(ctx context.Context, entity json.RawMessage) (json.RawMessage, error)

	// Delete removes an entity and returns the remote confirmation.
	Delete(ctx context.Context, entity json.RawMessage) (json.RawMessage, error)

	// Notifications opens the real-time change feed. The returned channel is
	// closed when the feed ends; the cache keeps serving cached state after
	// that. Implementations should stop the feed when ctx is cancelled.
	Notifications(ctx context.Context) (<-chan Notification, error)
}
