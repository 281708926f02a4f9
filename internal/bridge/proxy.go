package bridge

import (
	"rtbridge/internal/channel"
	"rtbridge/internal/database"
)

// Event is the payload emitted on the sink for every native callback
type Event struct {
	EventType        string `json:"eventType"`
	Path             string `json:"path"`
	Key              string `json:"key,omitempty"`
	Value            any    `json:"value"`
	PreviousChildKey string `json:"previousChildKey,omitempty"`
}

func newEvent(t EventType, snapshot database.DataSnapshot, previousChildKey string) Event {
	return Event{
		EventType:        t.String(),
		Path:             snapshot.Path,
		Key:              snapshot.Key,
		Value:            snapshot.Value,
		PreviousChildKey: previousChildKey,
	}
}

// forwardCancelled emits a native cancellation as a terminal error and ends
// the stream
func forwardCancelled(sink channel.EventSink, err *database.Error) {
	if err == nil {
		err = database.NewError(database.ErrCodeDisconnected, "listener cancelled")
	}
	sink.Error(err.Code, err.Message, err.Details)
	sink.EndOfStream()
}

// valueEventsProxy forwards value changes to a sink
type valueEventsProxy struct {
	sink channel.EventSink
}

func newValueEventsProxy(sink channel.EventSink) *valueEventsProxy {
	return &valueEventsProxy{sink: sink}
}

// OnDataChange implements database.ValueEventListener
func (p *valueEventsProxy) OnDataChange(snapshot database.DataSnapshot) {
	p.sink.Success(newEvent(EventTypeValue, snapshot, ""))
}

// OnCancelled implements database.Listener
func (p *valueEventsProxy) OnCancelled(err *database.Error) {
	forwardCancelled(p.sink, err)
}

// childEventsProxy forwards the one child event type it was created for
type childEventsProxy struct {
	sink      channel.EventSink
	eventType EventType
}

func newChildEventsProxy(sink channel.EventSink, eventType EventType) *childEventsProxy {
	return &childEventsProxy{sink: sink, eventType: eventType}
}

func (p *childEventsProxy) forward(t EventType, snapshot database.DataSnapshot, previousChildKey string) {
	if t != p.eventType {
		return
	}
	p.sink.Success(newEvent(t, snapshot, previousChildKey))
}

// OnChildAdded implements database.ChildEventListener
func (p *childEventsProxy) OnChildAdded(snapshot database.DataSnapshot, previousChildKey string) {
	p.forward(EventTypeChildAdded, snapshot, previousChildKey)
}

// OnChildChanged implements database.ChildEventListener
func (p *childEventsProxy) OnChildChanged(snapshot database.DataSnapshot, previousChildKey string) {
	p.forward(EventTypeChildChanged, snapshot, previousChildKey)
}

// OnChildRemoved implements database.ChildEventListener
func (p *childEventsProxy) OnChildRemoved(snapshot database.DataSnapshot) {
	p.forward(EventTypeChildRemoved, snapshot, "")
}

// OnChildMoved implements database.ChildEventListener
func (p *childEventsProxy) OnChildMoved(snapshot database.DataSnapshot, previousChildKey string) {
	p.forward(EventTypeChildMoved, snapshot, previousChildKey)
}

// OnCancelled implements database.Listener
func (p *childEventsProxy) OnCancelled(err *database.Error) {
	forwardCancelled(p.sink, err)
}
