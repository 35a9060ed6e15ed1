package jianluochat

import (
	"encoding/json"
	"testing"
)

func TestDispatcherHandlersFireInRegistrationOrder(t *testing.T) {
	d := NewDispatcher(nil)
	var order []string
	d.On(EventMessage, func(Frame) { order = append(order, "first") })
	d.On(EventMessage, func(Frame) { order = append(order, "second") })
	d.On(EventMessage, func(Frame) { order = append(order, "third") })

	d.Dispatch(Frame{Type: TypeNewMessage})

	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("unexpected handler order: %v", order)
	}
}

func TestDispatcherOff(t *testing.T) {
	d := NewDispatcher(nil)
	var calls int
	sub := d.On(EventMessage, func(Frame) { calls++ })
	d.On(EventMessage, func(Frame) { calls += 10 })

	d.Dispatch(Frame{Type: TypeNewMessage})
	d.Off(sub)
	d.Dispatch(Frame{Type: TypeNewMessage})

	if calls != 21 {
		t.Fatalf("expected 21 weighted calls, got %d", calls)
	}
}

func TestDispatcherUnknownTypeIgnored(t *testing.T) {
	d := NewDispatcher(nil)
	var called bool
	d.On(EventMessage, func(Frame) { called = true })

	d.Dispatch(Frame{Type: "FUTURE_THING"})

	if called {
		t.Fatalf("handler should not fire for unknown frame types")
	}
}

func TestClientOnMessageDecodesPayload(t *testing.T) {
	c := NewClient(DefaultConfig())
	var got MessageEvent
	c.OnMessage(func(ev MessageEvent) { got = ev })

	raw, _ := json.Marshal(MessagePayload{
		EventID: "ev1", RoomID: "general", Sender: "alice", Message: "hi",
	})
	c.dispatcher.Dispatch(Frame{Type: TypeNewMessage, Data: raw})

	if got.ID != "ev1" || got.RoomID != "general" || got.Sender != "alice" || got.Content != "hi" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestClientOnMessageMalformedPayloadDropped(t *testing.T) {
	c := NewClient(DefaultConfig())
	var called bool
	c.OnMessage(func(MessageEvent) { called = true })

	c.dispatcher.Dispatch(Frame{Type: TypeNewMessage, Data: json.RawMessage(`"not an object"`)})

	if called {
		t.Fatalf("handler should not fire for a malformed payload")
	}
}

func TestClientOnError(t *testing.T) {
	c := NewClient(DefaultConfig())
	var got error
	c.OnError(func(err error) { got = err })

	c.dispatcher.Dispatch(Frame{Type: TypeError, Message: "room is full"})

	if got == nil || CodeOf(got) != ErrorServer {
		t.Fatalf("expected server error, got %v", got)
	}
}
