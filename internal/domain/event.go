package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventConnOpened          EventType = "conn.opened"
	EventConnClosed          EventType = "conn.closed"
	EventProtocolFault       EventType = "conn.protocol_fault"
	EventSubscriptionAdded   EventType = "subscription.added"
	EventSubscriptionRemoved EventType = "subscription.removed"
	EventCommitted           EventType = "graph.committed"
	EventDirty               EventType = "graph.dirty"

	// Reconnect policy events.
	EventReconnectScheduled EventType = "reconnect.scheduled"
	EventReconnected        EventType = "reconnect.succeeded"
	EventReconnectExhausted EventType = "reconnect.exhausted"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Endpoint  string          `json:"endpoint,omitempty"`
	Err       error           `json:"-"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides publish/subscribe for connection lifecycle events.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType EventType, handler EventHandler) func()
	SubscribeAll(handler EventHandler) func()
	Close()
}
