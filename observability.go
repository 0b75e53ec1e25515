package recache

import (
	"context"
	"time"
)

// Scope labels passed to Observability fetch callbacks.
const (
	// ScopeCollection marks a full-collection fetch.
	ScopeCollection = "collection"
	// ScopeEntity marks a single-entity fetch.
	ScopeEntity = "entity"
)

// Fold origins passed to Observability.OnApply.
const (
	OriginFullRefresh   = "full-refresh"
	OriginEntityRefresh = "entity-refresh"
	OriginDelete        = "delete"
	OriginNotification  = "notification"
)

// Observability receives lifecycle callbacks from a Cache. Implementations
// must be safe for concurrent use.
//
// The Start callbacks may derive and return a new context (for example to
// carry a trace span); the returned context is passed to the matching
// Complete callback and to the collaborator call in between.
type Observability interface {
	// OnFetchStart is called when a remote read begins. scope is
	// ScopeCollection or ScopeEntity; key is empty for collection fetches.
	OnFetchStart(ctx context.Context, scope, key string) context.Context

	// OnFetchComplete is called when a remote read settles.
	OnFetchComplete(ctx context.Context, scope, key string, d time.Duration, err error)

	// OnWriteStart is called when a write-through call begins. op is
	// "create", "update", or "delete".
	OnWriteStart(ctx context.Context, op string) context.Context

	// OnWriteComplete is called when a write-through call settles.
	OnWriteComplete(ctx context.Context, op string, d time.Duration, err error)

	// OnApply is called after each derivation recomputation. origin is one
	// of the Origin constants; size is the entity count of the new map.
	OnApply(origin string, size int)
}

// NopObservability is the default Observability: every callback does
// nothing. Embed it to implement only a subset of the interface.
type NopObservability struct{}

func (NopObservability) OnFetchStart(ctx context.Context, scope, key string) context.Context {
	return ctx
}

func (NopObservability) OnFetchComplete(ctx context.Context, scope, key string, d time.Duration, err error) {
}

func (NopObservability) OnWriteStart(ctx context.Context, op string) context.Context {
	return ctx
}

func (NopObservability) OnWriteComplete(ctx context.Context, op string, d time.Duration, err error) {
}

func (NopObservability) OnApply(origin string, size int) {}
