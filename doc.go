// Package recache implements a generic, in-memory, reactive entity cache.
//
// A Cache sits between a remote data source (fetch, create, update, delete)
// and a real-time notification channel (a stream of insert/update/delete
// messages). It folds both into one canonical key-to-entity map and pushes
// immutable snapshots to subscribers of the whole collection or of a single
// entity by key.
//
// # Construction
//
// A Cache is parametrized over the entity type and a Source collaborator:
//
//	type Widget struct {
//	    ID   int    `json:"id"`
//	    Name string `json:"name"`
//	}
//
//	cache := recache.New[Widget](source)
//	defer cache.Close()
//
// The primary-key field defaults to "id" and is configurable:
//
//	cache := recache.New[Widget](source, recache.WithKeyField[Widget]("sku"))
//
// # Subscribing
//
// Subscriptions are push-based and reference counted. The first subscriber
// triggers the fetch; concurrent subscribers share it; late subscribers
// immediately replay the latest known snapshot:
//
//	sub := cache.All()
//	defer sub.Cancel()
//	for snapshot := range sub.C() {
//	    fmt.Println(len(snapshot), "widgets")
//	}
//
// Single entities are observed by key, with an explicit absent marker:
//
//	sub := cache.ByKey("42")
//	defer sub.Cancel()
//	entry := <-sub.C()
//	if entry.Present {
//	    fmt.Println(entry.Value.Name)
//	}
//
// Snapshots received from a subscription are shared with other subscribers;
// mutating one is a contract violation.
//
// # Writing through
//
// Create, Update, and Delete invoke the corresponding collaborator call,
// fold a successful result back into the canonical map, and return a
// cached, replayable Result:
//
//	res := cache.Create(Widget{ID: 7, Name: "gear"})
//	persisted, err := res.Get(ctx)
//
// Write failures propagate through the Result; fetch failures are consumed
// internally and only reset the loading signal.
//
// # Loading signal
//
// Loading exposes a coarse busy indicator bracketing every public
// operation. It is intentionally not a reference count: overlapping
// operations can clear it early.
//
// # Specialization
//
// Two hooks adapt raw payloads: WithNormalize converts raw JSON into the
// entity type (default: plain decoding), and WithPatch merges a partial
// update into a cached entity (default: shallow top-level field overwrite).
//
// Subpackages provide ready-made integrations: httpsource implements Source
// over REST plus a WebSocket notification feed, otel adds OpenTelemetry
// metrics and traces, and prom adds Prometheus instrumentation.
package recache
