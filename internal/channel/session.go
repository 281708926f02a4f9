package channel

import (
	"sync"

	"github.com/rs/zerolog"
)

// listening is a channel a session is currently subscribed to
type listening struct {
	handler StreamHandler
	sink    *sink
}

// Session tracks the channels one connection listens to
type Session struct {
	registry    *Registry
	emit        EmitFunc
	active      map[string]*listening
	ended       map[string]*listening // ended streams still waiting for cancel
	owned       map[string]struct{}
	maxChannels int
	mu          sync.Mutex
	closed      bool
	logger      zerolog.Logger
}

// NewSession creates a Session that emits through emit. maxChannels <= 0
// means no limit.
func NewSession(registry *Registry, emit EmitFunc, maxChannels int, logger zerolog.Logger) *Session {
	return &Session{
		registry:    registry,
		emit:        emit,
		active:      make(map[string]*listening),
		ended:       make(map[string]*listening),
		owned:       make(map[string]struct{}),
		maxChannels: maxChannels,
		logger:      logger,
	}
}

// Own records that the session created channel name. Owned channels that
// were never listened to are unregistered when the session closes.
func (s *Session) Own(name string) {
	s.mu.Lock()
	s.owned[name] = struct{}{}
	s.mu.Unlock()
}

// Listen subscribes the session to channel name
func (s *Session) Listen(name string, args Arguments) error {
	handler, ok := s.registry.Get(name)
	if !ok {
		return Errorf(CodeNotFound, "no such channel: %s", name)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return NewError(CodeFailedPrecondition, "session is closed")
	}
	if s.active[name] != nil || s.ended[name] != nil {
		s.mu.Unlock()
		return Errorf(CodeFailedPrecondition, "already listening on channel: %s", name)
	}
	if s.maxChannels > 0 && len(s.active) >= s.maxChannels {
		s.mu.Unlock()
		return Errorf(CodeResourceExhausted, "maximum channels reached (%d)", s.maxChannels)
	}
	// Registered before OnListen so events emitted during attach are kept
	entry := &listening{handler: handler}
	entry.sink = newSink(name, s.emit, func() { s.streamEnded(name, entry) })
	s.active[name] = entry
	s.mu.Unlock()

	if err := handler.OnListen(args, entry.sink); err != nil {
		entry.sink.close()
		s.mu.Lock()
		if s.active[name] == entry {
			delete(s.active, name)
		}
		if s.ended[name] == entry {
			delete(s.ended, name)
		}
		s.mu.Unlock()
		return err
	}

	// Only a listened channel is released by its own cancel
	s.mu.Lock()
	delete(s.owned, name)
	s.mu.Unlock()

	s.logger.Debug().Str("channel", name).Msg("listening")
	return nil
}

// Cancel unsubscribes the session from channel name
func (s *Session) Cancel(name string, args Arguments) error {
	s.mu.Lock()
	entry, ok := s.active[name]
	if ok {
		delete(s.active, name)
	} else if entry, ok = s.ended[name]; ok {
		delete(s.ended, name)
	}
	s.mu.Unlock()
	if !ok {
		return Errorf(CodeNotFound, "not listening on channel: %s", name)
	}

	entry.sink.close()
	entry.handler.OnCancel(args)

	s.logger.Debug().Str("channel", name).Msg("cancelled")
	return nil
}

// Close cancels every channel the session listens to
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	active := s.active
	for name, entry := range s.ended {
		active[name] = entry
	}
	owned := s.owned
	s.active = make(map[string]*listening)
	s.ended = make(map[string]*listening)
	s.owned = make(map[string]struct{})
	s.mu.Unlock()

	for name, entry := range active {
		entry.sink.close()
		entry.handler.OnCancel(nil)
		s.logger.Debug().Str("channel", name).Msg("cancelled on close")
	}
	for name := range owned {
		s.registry.Unregister(name)
	}
}

// streamEnded moves a channel whose handler ended the stream out of the
// active set so it no longer counts toward the channel limit. The handler is
// still cancelled by Cancel or Close.
func (s *Session) streamEnded(name string, entry *listening) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[name] != entry {
		return
	}
	delete(s.active, name)
	s.ended[name] = entry
	s.logger.Debug().Str("channel", name).Msg("stream ended")
}

// Count returns the number of channels the session actively listens to
func (s *Session) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
