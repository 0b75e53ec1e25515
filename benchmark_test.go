package recache

import (
	"encoding/json"
	"strconv"
	"testing"
)

func BenchmarkApplyNotificationInsert(b *testing.B) {
	c := &Cache[widget]{
		keyField:  "id",
		normalize: unmarshalRaw[widget],
		patch:     shallowPatch[widget],
	}
	current := make(map[string]widget, 1000)
	for i := 0; i < 1000; i++ {
		current[strconv.Itoa(i)] = widget{ID: i}
	}
	n := Notification{Action: ActionInsert, Data: json.RawMessage(`{"id":5000,"v":"x"}`)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.applyNotification(current, n); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkShallowPatch(b *testing.B) {
	existing := widget{ID: 1, A: 1, B: 2, V: "name"}
	partial := json.RawMessage(`{"b":9}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := shallowPatch(existing, partial); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkStreamPublish(b *testing.B) {
	s := newStream[int]()
	subs := make([]*Subscription[int], 8)
	for i := range subs {
		subs[i] = s.subscribe()
	}
	defer func() {
		for _, sub := range subs {
			sub.Cancel()
		}
	}()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.publish(i)
	}
}
