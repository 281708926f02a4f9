package channel

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	name string
	env  Envelope
}

type emitRecorder struct {
	mu  sync.Mutex
	out []emitted
}

func (r *emitRecorder) emit(name string, env Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, emitted{name: name, env: env})
}

func (r *emitRecorder) all() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.out...)
}

// stubHandler keeps the sink it was given so tests can emit after cancel
type stubHandler struct {
	sink      EventSink
	listenErr error
	listens   int
	cancels   int
	onListen  func(sink EventSink)
}

func (h *stubHandler) OnListen(args Arguments, sink EventSink) error {
	h.listens++
	if h.listenErr != nil {
		return h.listenErr
	}
	h.sink = sink
	if h.onListen != nil {
		h.onListen(sink)
	}
	return nil
}

func (h *stubHandler) OnCancel(args Arguments) {
	h.cancels++
}

func newTestSession(t *testing.T, maxChannels int) (*Session, *Registry, *emitRecorder) {
	t.Helper()
	reg := NewRegistry(zerolog.Nop())
	rec := &emitRecorder{}
	return NewSession(reg, rec.emit, maxChannels, zerolog.Nop()), reg, rec
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	h := &stubHandler{}

	require.NoError(t, reg.Register("a", h))
	assert.Error(t, reg.Register("a", h))
	assert.Equal(t, 1, reg.Len())

	got, ok := reg.Get("a")
	require.True(t, ok)
	assert.Same(t, h, got)

	reg.Unregister("a")
	reg.Unregister("a")
	_, ok = reg.Get("a")
	assert.False(t, ok)
}

func TestSession_ListenEmitsUntilCancel(t *testing.T) {
	s, reg, rec := newTestSession(t, 0)
	h := &stubHandler{onListen: func(sink EventSink) { sink.Success("initial") }}
	require.NoError(t, reg.Register("ch", h))

	require.NoError(t, s.Listen("ch", Arguments{"eventType": "value"}))
	h.sink.Success("second")
	h.sink.Error("permission-denied", "nope", nil)

	require.NoError(t, s.Cancel("ch", nil))
	h.sink.Success("after cancel")

	out := rec.all()
	require.Len(t, out, 3)
	assert.Equal(t, "initial", out[0].env.Event)
	assert.Equal(t, "second", out[1].env.Event)
	require.NotNil(t, out[2].env.Error)
	assert.Equal(t, "permission-denied", out[2].env.Error.Code)
	assert.Equal(t, 1, h.cancels)
	assert.Equal(t, 0, s.Count())
}

func TestSession_EndOfStreamClosesSink(t *testing.T) {
	s, reg, rec := newTestSession(t, 0)
	h := &stubHandler{}
	require.NoError(t, reg.Register("ch", h))
	require.NoError(t, s.Listen("ch", nil))

	h.sink.EndOfStream()
	h.sink.Success("ignored")

	out := rec.all()
	require.Len(t, out, 1)
	assert.True(t, out[0].env.End)
}

func TestSession_ListenErrors(t *testing.T) {
	s, reg, _ := newTestSession(t, 1)

	err := s.Listen("missing", nil)
	var chErr *Error
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, CodeNotFound, chErr.Code)

	failing := &stubHandler{listenErr: NewError(CodeInvalidArgument, "bad")}
	require.NoError(t, reg.Register("failing", failing))
	require.Error(t, s.Listen("failing", nil))
	assert.Equal(t, 0, s.Count())

	require.NoError(t, reg.Register("a", &stubHandler{}))
	require.NoError(t, reg.Register("b", &stubHandler{}))
	require.NoError(t, s.Listen("a", nil))

	err = s.Listen("a", nil)
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, CodeFailedPrecondition, chErr.Code)

	err = s.Listen("b", nil)
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, CodeResourceExhausted, chErr.Code)

	err = s.Cancel("b", nil)
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, CodeNotFound, chErr.Code)
}

func TestSession_CloseCancelsAndReleasesOwned(t *testing.T) {
	s, reg, _ := newTestSession(t, 0)
	listened := &stubHandler{}
	idle := &stubHandler{}
	require.NoError(t, reg.Register("listened", listened))
	require.NoError(t, reg.Register("idle", idle))
	s.Own("listened")
	s.Own("idle")

	require.NoError(t, s.Listen("listened", nil))
	s.Close()
	s.Close()

	assert.Equal(t, 1, listened.cancels)
	assert.Equal(t, 0, idle.cancels)
	_, ok := reg.Get("idle")
	assert.False(t, ok)
	// the listened handler is released by its own cancel hook
	_, ok = reg.Get("listened")
	assert.True(t, ok)

	assert.Error(t, s.Listen("listened", nil))
}

func TestSession_CloseReleasesOwnedAfterFailedListen(t *testing.T) {
	s, reg, _ := newTestSession(t, 0)
	failing := &stubHandler{listenErr: NewError(CodeInvalidArgument, "unknown event type")}
	require.NoError(t, reg.Register("owned", failing))
	s.Own("owned")

	require.Error(t, s.Listen("owned", nil))
	s.Close()

	_, ok := reg.Get("owned")
	assert.False(t, ok)
	assert.Equal(t, 0, failing.cancels)
}

func TestSession_EndedStreamFreesSlot(t *testing.T) {
	s, reg, rec := newTestSession(t, 1)
	first := &stubHandler{}
	require.NoError(t, reg.Register("first", first))
	require.NoError(t, reg.Register("second", &stubHandler{}))
	require.NoError(t, s.Listen("first", nil))

	first.sink.Error("permission-denied", "nope", nil)
	first.sink.EndOfStream()
	assert.Equal(t, 0, s.Count())

	// The ended channel no longer counts toward the limit
	require.NoError(t, s.Listen("second", nil))

	// It can still be cancelled, which runs the handler's cancel hook
	require.NoError(t, s.Cancel("first", nil))
	assert.Equal(t, 1, first.cancels)
	assert.Error(t, s.Cancel("first", nil))

	out := rec.all()
	require.Len(t, out, 2)
	assert.NotNil(t, out[0].env.Error)
	assert.True(t, out[1].env.End)
}

func TestSession_CloseCancelsEndedStreams(t *testing.T) {
	s, reg, _ := newTestSession(t, 0)
	h := &stubHandler{}
	require.NoError(t, reg.Register("ch", h))
	require.NoError(t, s.Listen("ch", nil))
	h.sink.EndOfStream()

	s.Close()
	assert.Equal(t, 1, h.cancels)
}
