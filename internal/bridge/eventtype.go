package bridge

import (
	"fmt"

	"rtbridge/internal/channel"
)

// EventType is the kind of event a subscription asks for
type EventType int

const (
	EventTypeValue EventType = iota + 1
	EventTypeChildAdded
	EventTypeChildChanged
	EventTypeChildRemoved
	EventTypeChildMoved
)

// ArgEventType is the listen argument naming the event type
const ArgEventType = "eventType"

var eventTypeNames = map[EventType]string{
	EventTypeValue:        "value",
	EventTypeChildAdded:   "child_added",
	EventTypeChildChanged: "child_changed",
	EventTypeChildRemoved: "child_removed",
	EventTypeChildMoved:   "child_moved",
}

// String returns the wire name of the event type
func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// IsChild reports whether t is one of the child event types
func (t EventType) IsChild() bool {
	switch t {
	case EventTypeChildAdded, EventTypeChildChanged, EventTypeChildRemoved, EventTypeChildMoved:
		return true
	}
	return false
}

// ParseEventType maps a wire name to its EventType
func ParseEventType(name string) (EventType, error) {
	switch name {
	case "value":
		return EventTypeValue, nil
	case "child_added":
		return EventTypeChildAdded, nil
	case "child_changed":
		return EventTypeChildChanged, nil
	case "child_removed":
		return EventTypeChildRemoved, nil
	case "child_moved":
		return EventTypeChildMoved, nil
	}
	return 0, channel.Errorf(channel.CodeInvalidArgument, "unknown event type %q", name)
}

// eventTypeFromArgs reads and validates the eventType argument
func eventTypeFromArgs(args channel.Arguments) (EventType, error) {
	raw, ok := args[ArgEventType]
	if !ok {
		return 0, channel.NewError(channel.CodeInvalidArgument, "missing eventType")
	}
	name, ok := raw.(string)
	if !ok {
		return 0, channel.Errorf(channel.CodeInvalidArgument, "eventType must be a string, got %T", raw)
	}
	return ParseEventType(name)
}
