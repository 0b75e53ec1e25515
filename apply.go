package recache

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrNoKey reports that an entity or notification payload is missing the
// configured primary-key field.
var ErrNoKey = errors.New("recache: payload has no key field")

// keyOf extracts the canonical string form of the primary-key field from a
// raw entity. Numeric keys yield their decimal representation, so JSON ids
// 7 and "7" address the same entry. The field is addressed as a gjson path,
// which allows nested keys such as "meta.id".
func keyOf(raw json.RawMessage, field string) (string, error) {
	v := gjson.GetBytes(raw, field)
	if !v.Exists() {
		return "", fmt.Errorf("%w: %q", ErrNoKey, field)
	}
	return v.String(), nil
}

// applyNotification derives the next canonical map from current and n.
// It is a pure transform: current is never mutated, and every action is
// total — preconditions that do not hold degrade to no-ops rather than
// errors. A no-op returns current itself.
func (c *Cache[T]) applyNotification(current map[string]T, n Notification) (map[string]T, error) {
	key, err := keyOf(n.Data, c.keyField)
	if err != nil {
		return current, err
	}

	switch n.Action {
	case ActionInsert:
		if _, ok := current[key]; ok {
			return current, nil
		}
		v, err := c.normalize(n.Data)
		if err != nil {
			return current, err
		}
		next := maps.Clone(current)
		next[key] = v
		return next, nil

	case ActionFullUpdate:
		v, err := c.normalize(n.Data)
		if err != nil {
			return current, err
		}
		next := maps.Clone(current)
		next[key] = v
		return next, nil

	case ActionUpdate:
		existing, ok := current[key]
		if !ok {
			return current, nil
		}
		v, err := c.patch(existing, n.Data)
		if err != nil {
			return current, err
		}
		next := maps.Clone(current)
		next[key] = v
		return next, nil

	case ActionDelete:
		if _, ok := current[key]; !ok {
			return current, nil
		}
		next := maps.Clone(current)
		delete(next, key)
		return next, nil

	default:
		return current, fmt.Errorf("recache: unknown action %q", n.Action)
	}
}

// unmarshalRaw is the default normalize hook: plain JSON decoding into T.
func unmarshalRaw[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("recache: decode entity: %w", err)
	}
	return v, nil
}

// shallowPatch is the default patch hook. It overlays the top-level fields
// of partial onto a JSON copy of existing: provided fields overwrite,
// unspecified fields stay untouched, and nested objects are replaced whole
// rather than merged.
func shallowPatch[T any](existing T, partial json.RawMessage) (T, error) {
	var out T
	merged, err := json.Marshal(existing)
	if err != nil {
		return out, fmt.Errorf("recache: encode existing entity: %w", err)
	}

	var setErr error
	gjson.ParseBytes(partial).ForEach(func(k, v gjson.Result) bool {
		// Field names are literal here, so dots must not act as path
		// separators.
		path := strings.ReplaceAll(k.String(), ".", `\.`)
		merged, setErr = sjson.SetRawBytes(merged, path, []byte(v.Raw))
		return setErr == nil
	})
	if setErr != nil {
		return out, fmt.Errorf("recache: patch entity: %w", setErr)
	}

	if err := json.Unmarshal(merged, &out); err != nil {
		return out, fmt.Errorf("recache: decode patched entity: %w", err)
	}
	return out, nil
}
