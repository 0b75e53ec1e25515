package recache

import "encoding/json"

// Action identifies the kind of change described by a Notification.
type Action string

const (
	// ActionInsert adds a new entity. Existing entities are never overwritten.
	ActionInsert Action = "insert"
	// ActionFullUpdate replaces an entity wholesale, inserting it if absent.
	ActionFullUpdate Action = "full_update"
	// ActionUpdate shallow-patches an existing entity. Unknown keys are ignored.
	ActionUpdate Action = "update"
	// ActionDelete removes an entity if present.
	ActionDelete Action = "delete"
)

// Notification describes one externally sourced entity change, typically
// delivered over a real-time channel alongside the primary data source.
//
// Data carries the full entity for insert and full_update, a partial entity
// for update, and at least the key field for delete. The key field must be
// present in every payload; a notification without it is dropped.
type Notification struct {
	Action Action          `json:"action"`
	Data   json.RawMessage `json:"data"`
}
