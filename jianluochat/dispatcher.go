package jianluochat

import "sync"

// Handler receives the parsed frame for the event it was registered on.
type Handler func(Frame)

// Subscription identifies a handler registered with On so it can be removed.
type Subscription struct {
	event Event
	id    uint64
}

// Dispatcher routes inbound frames to registered handlers. Handlers for an
// event fire synchronously in registration order.
type Dispatcher struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[Event][]handlerEntry
	logger   Logger
}

type handlerEntry struct {
	id uint64
	fn Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		handlers: make(map[Event][]handlerEntry),
		logger:   logger,
	}
}

// On registers a handler for a logical event.
func (d *Dispatcher) On(ev Event, h Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.handlers[ev] = append(d.handlers[ev], handlerEntry{id: d.nextID, fn: h})
	return Subscription{event: ev, id: d.nextID}
}

// Off removes a previously registered handler. Unknown subscriptions are ignored.
func (d *Dispatcher) Off(sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.handlers[sub.event]
	for i, e := range entries {
		if e.id == sub.id {
			d.handlers[sub.event] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Dispatch routes a frame to the handlers of its logical event. Unknown frame
// types are logged and ignored so new server message types stay harmless.
func (d *Dispatcher) Dispatch(f Frame) {
	ev, ok := eventFor(f.Type)
	if !ok {
		d.logger.Debug("unknown frame type", map[string]any{"type": f.Type})
		return
	}

	d.mu.Lock()
	entries := make([]handlerEntry, len(d.handlers[ev]))
	copy(entries, d.handlers[ev])
	d.mu.Unlock()

	for _, e := range entries {
		e.fn(f)
	}
}

func eventFor(frameType string) (Event, bool) {
	switch frameType {
	case TypeConnected:
		return EventConnected, true
	case TypeNewMessage:
		return EventMessage, true
	case TypeWorldMessage:
		return EventWorld, true
	case TypeWorldJoined:
		return EventWorldJoined, true
	case TypeTypingIndicator:
		return EventTyping, true
	case TypePong:
		return EventPong, true
	case TypeError:
		return EventError, true
	}
	return "", false
}
