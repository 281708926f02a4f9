package database

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type eventKind int

const (
	kindValue eventKind = iota
	kindChildAdded
	kindChildChanged
	kindChildRemoved
	kindChildMoved
	kindCancelled
	kindBarrier
)

// event is one pending listener callback
type event struct {
	kind     eventKind
	reg      *registration
	snapshot DataSnapshot
	prevKey  string
	err      *Error
	barrier  chan struct{}
}

// dispatcher delivers events on a single goroutine in the order they were
// queued. The queue is unbounded so callbacks may write to the database.
type dispatcher struct {
	mu     sync.Mutex
	items  []event
	signal chan struct{}
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newDispatcher(logger zerolog.Logger) *dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &dispatcher{
		signal: make(chan struct{}, 1),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// push queues events for delivery
func (d *dispatcher) push(events ...event) {
	if len(events) == 0 {
		return
	}
	d.mu.Lock()
	d.items = append(d.items, events...)
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// sync blocks until every event queued before the call has been delivered.
// It must not be called from a listener callback.
func (d *dispatcher) sync() {
	done := make(chan struct{})
	d.push(event{kind: kindBarrier, barrier: done})
	select {
	case <-done:
	case <-d.ctx.Done():
	}
}

func (d *dispatcher) close() {
	d.cancel()
	d.wg.Wait()
}

func (d *dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.signal:
		}

		for {
			d.mu.Lock()
			items := d.items
			d.items = nil
			d.mu.Unlock()
			if len(items) == 0 {
				break
			}
			for _, ev := range items {
				if d.ctx.Err() != nil {
					return
				}
				d.deliver(ev)
			}
		}
	}
}

func (d *dispatcher) deliver(ev event) {
	if ev.kind == kindBarrier {
		close(ev.barrier)
		return
	}

	reg := ev.reg
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.removed.Load() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Interface("panic", r).
				Str("path", reg.query.path).
				Msg("listener panicked")
		}
	}()

	switch ev.kind {
	case kindValue:
		reg.value.OnDataChange(ev.snapshot)
	case kindChildAdded:
		reg.child.OnChildAdded(ev.snapshot, ev.prevKey)
	case kindChildChanged:
		reg.child.OnChildChanged(ev.snapshot, ev.prevKey)
	case kindChildRemoved:
		reg.child.OnChildRemoved(ev.snapshot)
	case kindChildMoved:
		reg.child.OnChildMoved(ev.snapshot, ev.prevKey)
	case kindCancelled:
		reg.listener.OnCancelled(ev.err)
	}
}
