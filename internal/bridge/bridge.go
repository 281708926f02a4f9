package bridge

import (
	"sync"

	"github.com/rs/zerolog"

	"rtbridge/internal/channel"
	"rtbridge/internal/database"
)

// Query is the part of a database query the bridge attaches listeners to
type Query interface {
	AddValueEventListener(l database.ValueEventListener) database.ValueEventListener
	AddChildEventListener(l database.ChildEventListener) database.ChildEventListener
	RemoveEventListener(l database.Listener)
}

// Bridge serves one event channel by attaching exactly one listener to a
// query on listen and detaching it on cancel. A Bridge serves a single
// subscription lifecycle.
type Bridge struct {
	query     Query
	onDispose func()
	dispose   sync.Once
	logger    zerolog.Logger

	mu sync.Mutex
	// active is nil, *valueEventsProxy or *childEventsProxy
	active    database.Listener
	listened  bool
	cancelled bool
}

// New creates a Bridge for query. onDispose runs once, when the
// subscription is cancelled, before the listener is detached.
func New(query Query, onDispose func(), logger zerolog.Logger) *Bridge {
	return &Bridge{
		query:     query,
		onDispose: onDispose,
		logger:    logger,
	}
}

// OnListen implements channel.StreamHandler
func (b *Bridge) OnListen(args channel.Arguments, sink channel.EventSink) error {
	eventType, err := eventTypeFromArgs(args)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelled {
		return channel.NewError(channel.CodeFailedPrecondition, "subscription already cancelled")
	}
	if b.listened {
		return channel.NewError(channel.CodeFailedPrecondition, "subscription already listening")
	}

	switch {
	case eventType == EventTypeValue:
		proxy := newValueEventsProxy(sink)
		b.query.AddValueEventListener(proxy)
		b.active = proxy
	case eventType.IsChild():
		proxy := newChildEventsProxy(sink, eventType)
		b.query.AddChildEventListener(proxy)
		b.active = proxy
	default:
		return channel.Errorf(channel.CodeInvalidArgument, "unsupported event type %s", eventType)
	}
	b.listened = true

	b.logger.Debug().Str("eventType", eventType.String()).Msg("listener attached")
	return nil
}

// OnCancel implements channel.StreamHandler. Calling it again is a no-op.
func (b *Bridge) OnCancel(args channel.Arguments) {
	b.dispose.Do(func() {
		if b.onDispose != nil {
			b.onDispose()
		}
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = true

	switch l := b.active.(type) {
	case *valueEventsProxy:
		b.query.RemoveEventListener(l)
		b.logger.Debug().Msg("value listener detached")
	case *childEventsProxy:
		b.query.RemoveEventListener(l)
		b.logger.Debug().Str("eventType", l.eventType.String()).Msg("child listener detached")
	}
	b.active = nil
}
