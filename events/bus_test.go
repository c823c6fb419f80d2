package events

import "testing"

type testEvent struct{ name string }

func (e testEvent) EventName() string { return e.name }

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewBus()
	var got []string
	bus.Subscribe("user.created", func(Event) { got = append(got, "first") })
	bus.Subscribe("user.created", func(Event) { got = append(got, "second") })

	bus.Publish(testEvent{name: "user.created"})

	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("delivery order = %v", got)
	}
}

func TestPublishSkipsOtherNames(t *testing.T) {
	bus := NewBus()
	called := false
	bus.Subscribe("a", func(Event) { called = true })

	bus.Publish(testEvent{name: "b"})

	if called {
		t.Error("handler for a fired for b")
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	var names []string
	bus.SubscribeAll(func(ev Event) { names = append(names, ev.EventName()) })

	bus.Publish(testEvent{name: "x"})
	bus.Publish(testEvent{name: "y"})

	if len(names) != 2 || names[0] != "x" || names[1] != "y" {
		t.Errorf("names = %v", names)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0
	off := bus.Subscribe("tick", func(Event) { calls++ })

	bus.Publish(testEvent{name: "tick"})
	off()
	bus.Publish(testEvent{name: "tick"})

	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
}

func TestHandlerPanicDoesNotStopDelivery(t *testing.T) {
	bus := NewBus()
	delivered := false
	bus.Subscribe("boom", func(Event) { panic("handler failure") })
	bus.Subscribe("boom", func(Event) { delivered = true })

	bus.Publish(testEvent{name: "boom"})

	if !delivered {
		t.Error("second handler skipped after panic")
	}
}
