package channel

import "sync"

// sink emits envelopes for one listening channel until it is closed
type sink struct {
	name   string
	emit   EmitFunc
	onEnd  func()
	mu     sync.Mutex
	closed bool
}

// newSink creates a sink for name. onEnd, if set, runs once after the end of
// stream was emitted.
func newSink(name string, emit EmitFunc, onEnd func()) *sink {
	return &sink{name: name, emit: emit, onEnd: onEnd}
}

// Success implements EventSink
func (s *sink) Success(event any) {
	s.send(Envelope{Event: event}, false)
}

// Error implements EventSink
func (s *sink) Error(code, message string, details any) {
	s.send(Envelope{Error: &Error{Code: code, Message: message, Details: details}}, false)
}

// EndOfStream implements EventSink
func (s *sink) EndOfStream() {
	s.send(Envelope{End: true}, true)
}

// send holds the lock while emitting so close waits for an in-flight event
func (s *sink) send(env Envelope, last bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if last {
		s.closed = true
	}
	s.emit(s.name, env)
	s.mu.Unlock()

	if last && s.onEnd != nil {
		s.onEnd()
	}
}

// close stops the sink; events after close are dropped
func (s *sink) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
