package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtbridge/internal/channel"
	"rtbridge/internal/database"
)

// fakeQuery records attached listeners and lets tests fire native callbacks
type fakeQuery struct {
	mu      sync.Mutex
	values  []database.ValueEventListener
	childs  []database.ChildEventListener
	removed []database.Listener
}

func (q *fakeQuery) AddValueEventListener(l database.ValueEventListener) database.ValueEventListener {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.values = append(q.values, l)
	return l
}

func (q *fakeQuery) AddChildEventListener(l database.ChildEventListener) database.ChildEventListener {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.childs = append(q.childs, l)
	return l
}

func (q *fakeQuery) RemoveEventListener(l database.Listener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removed = append(q.removed, l)
	for i, v := range q.values {
		if database.Listener(v) == l {
			q.values = append(q.values[:i], q.values[i+1:]...)
			return
		}
	}
	for i, c := range q.childs {
		if database.Listener(c) == l {
			q.childs = append(q.childs[:i], q.childs[i+1:]...)
			return
		}
	}
}

func (q *fakeQuery) fireValue(s database.DataSnapshot) {
	for _, l := range q.values {
		l.OnDataChange(s)
	}
}

func (q *fakeQuery) fireChildAdded(s database.DataSnapshot, prev string) {
	for _, l := range q.childs {
		l.OnChildAdded(s, prev)
	}
}

func (q *fakeQuery) fireChildRemoved(s database.DataSnapshot) {
	for _, l := range q.childs {
		l.OnChildRemoved(s)
	}
}

// recordingSink stores everything emitted on it
type recordingSink struct {
	mu     sync.Mutex
	events []any
	errors []channel.Error
	ended  bool
}

func (s *recordingSink) Success(event any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) Error(code, message string, details any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, channel.Error{Code: code, Message: message, Details: details})
}

func (s *recordingSink) EndOfStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

func (s *recordingSink) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events) + len(s.errors)
}

func newTestBridge(q Query) (*Bridge, *int) {
	disposed := 0
	return New(q, func() { disposed++ }, zerolog.Nop()), &disposed
}

func TestBridge_ValueAttachesOnlyValueListener(t *testing.T) {
	q := &fakeQuery{}
	b, _ := newTestBridge(q)

	err := b.OnListen(channel.Arguments{"eventType": "value"}, &recordingSink{})
	require.NoError(t, err)

	assert.Len(t, q.values, 1)
	assert.Empty(t, q.childs)
}

func TestBridge_ChildTypesAttachOnlyChildListener(t *testing.T) {
	for _, name := range []string{"child_added", "child_changed", "child_removed", "child_moved"} {
		t.Run(name, func(t *testing.T) {
			q := &fakeQuery{}
			b, _ := newTestBridge(q)

			err := b.OnListen(channel.Arguments{"eventType": name}, &recordingSink{})
			require.NoError(t, err)

			assert.Empty(t, q.values)
			require.Len(t, q.childs, 1)
			proxy, ok := q.childs[0].(*childEventsProxy)
			require.True(t, ok)
			assert.Equal(t, name, proxy.eventType.String())
		})
	}
}

func TestBridge_RejectsUnknownEventType(t *testing.T) {
	tests := []struct {
		name string
		args channel.Arguments
	}{
		{name: "missing", args: channel.Arguments{}},
		{name: "nil args", args: nil},
		{name: "unknown", args: channel.Arguments{"eventType": "child_exploded"}},
		{name: "not a string", args: channel.Arguments{"eventType": 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQuery{}
			b, _ := newTestBridge(q)

			err := b.OnListen(tt.args, &recordingSink{})
			require.Error(t, err)

			var chErr *channel.Error
			require.ErrorAs(t, err, &chErr)
			assert.Equal(t, channel.CodeInvalidArgument, chErr.Code)
			assert.Empty(t, q.values)
			assert.Empty(t, q.childs)
		})
	}
}

func TestBridge_ValueScenario(t *testing.T) {
	q := &fakeQuery{}
	b, disposed := newTestBridge(q)
	sink := &recordingSink{}

	require.NoError(t, b.OnListen(channel.Arguments{"eventType": "value"}, sink))

	q.fireValue(database.DataSnapshot{Key: "x", Path: "/x", Value: map[string]any{"a": float64(1)}})
	require.Len(t, sink.events, 1)
	ev := sink.events[0].(Event)
	assert.Equal(t, "value", ev.EventType)
	assert.Equal(t, "/x", ev.Path)
	assert.Equal(t, map[string]any{"a": float64(1)}, ev.Value)

	b.OnCancel(nil)
	assert.Equal(t, 1, *disposed)
	assert.Empty(t, q.values)
	require.Len(t, q.removed, 1)

	q.fireValue(database.DataSnapshot{Key: "x", Path: "/x", Value: "later"})
	assert.Equal(t, 1, sink.calls())
}

func TestBridge_ChildRemovedScenario(t *testing.T) {
	q := &fakeQuery{}
	b, _ := newTestBridge(q)
	sink := &recordingSink{}

	require.NoError(t, b.OnListen(channel.Arguments{"eventType": "child_removed"}, sink))

	q.fireChildAdded(database.DataSnapshot{Key: "a", Path: "/list/a", Value: "1"}, "")
	q.fireChildRemoved(database.DataSnapshot{Key: "a", Path: "/list/a", Value: "1"})

	require.Len(t, sink.events, 1)
	ev := sink.events[0].(Event)
	assert.Equal(t, "child_removed", ev.EventType)
	assert.Equal(t, "/list/a", ev.Path)
	assert.Equal(t, "a", ev.Key)
}

func TestBridge_CancelTwiceIsNoop(t *testing.T) {
	q := &fakeQuery{}
	b, disposed := newTestBridge(q)

	require.NoError(t, b.OnListen(channel.Arguments{"eventType": "child_added"}, &recordingSink{}))

	assert.NotPanics(t, func() {
		b.OnCancel(nil)
		b.OnCancel(nil)
	})
	assert.Equal(t, 1, *disposed)
	assert.Len(t, q.removed, 1)
}

func TestBridge_CancelRunsDisposeBeforeDetach(t *testing.T) {
	q := &fakeQuery{}
	var attachedAtDispose int
	b := New(q, func() {
		q.mu.Lock()
		attachedAtDispose = len(q.values)
		q.mu.Unlock()
	}, zerolog.Nop())

	require.NoError(t, b.OnListen(channel.Arguments{"eventType": "value"}, &recordingSink{}))
	b.OnCancel(nil)

	assert.Equal(t, 1, attachedAtDispose)
	assert.Empty(t, q.values)
}

func TestBridge_CancelWithoutListen(t *testing.T) {
	q := &fakeQuery{}
	b, disposed := newTestBridge(q)

	b.OnCancel(nil)
	assert.Equal(t, 1, *disposed)
	assert.Empty(t, q.removed)
}

func TestBridge_SecondListenIsRejected(t *testing.T) {
	q := &fakeQuery{}
	b, _ := newTestBridge(q)

	require.NoError(t, b.OnListen(channel.Arguments{"eventType": "value"}, &recordingSink{}))
	err := b.OnListen(channel.Arguments{"eventType": "child_added"}, &recordingSink{})

	var chErr *channel.Error
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, channel.CodeFailedPrecondition, chErr.Code)
	assert.Len(t, q.values, 1)
	assert.Empty(t, q.childs)
}

func TestBridge_ListenAfterCancelIsRejected(t *testing.T) {
	q := &fakeQuery{}
	b, _ := newTestBridge(q)

	b.OnCancel(nil)
	err := b.OnListen(channel.Arguments{"eventType": "value"}, &recordingSink{})
	require.Error(t, err)
	assert.Empty(t, q.values)
}

// gatedSink blocks in Success while the event value is "block"
type gatedSink struct {
	recordingSink
	entered chan struct{}
	release chan struct{}
}

func (s *gatedSink) Success(event any) {
	if ev, ok := event.(Event); ok && ev.Value == "block" {
		close(s.entered)
		<-s.release
	}
	s.recordingSink.Success(event)
}

func TestBridge_CancelWaitsForInFlightEvent(t *testing.T) {
	db := database.New()
	defer db.Close()

	sink := &gatedSink{entered: make(chan struct{}), release: make(chan struct{})}
	b := New(db.Ref("/feed"), nil, zerolog.Nop())
	require.NoError(t, b.OnListen(channel.Arguments{"eventType": "value"}, sink))
	require.NoError(t, db.Set("/feed", "block"))
	<-sink.entered

	cancelled := make(chan struct{})
	go func() {
		b.OnCancel(nil)
		close(cancelled)
	}()

	select {
	case <-cancelled:
		t.Fatal("OnCancel returned while an event was being forwarded")
	case <-time.After(50 * time.Millisecond):
	}

	close(sink.release)
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("OnCancel did not return")
	}
	forwarded := sink.calls()

	require.NoError(t, db.Set("/feed", "after"))
	db.Sync()
	assert.Equal(t, forwarded, sink.calls())
	assert.Equal(t, 0, db.ListenerCount())
}
