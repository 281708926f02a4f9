package database

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ReadAuthorizer decides whether data at a path may be read
type ReadAuthorizer interface {
	CanRead(path string, root any) (bool, error)
}

// regKey identifies a listener attached to one query
type regKey struct {
	query    string
	listener Listener
}

// registration is a listener attached to a query
type registration struct {
	query    *Query
	listener Listener
	value    ValueEventListener
	child    ChildEventListener

	// mu is held while a callback for this registration runs
	mu        sync.Mutex
	removed   atomic.Bool
	cancelled bool // guarded by Database.mu
}

// Database is an in-memory realtime tree. Writes are applied atomically and
// every affected listener is notified on the event goroutine.
type Database struct {
	mu     sync.RWMutex
	root   any
	regs   map[regKey]*registration
	rules  ReadAuthorizer
	closed bool

	events *dispatcher
	logger zerolog.Logger
}

// Option configures a Database
type Option func(*Database)

// WithRules sets the read authorizer
func WithRules(rules ReadAuthorizer) Option {
	return func(d *Database) {
		d.rules = rules
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Database) {
		d.logger = logger
	}
}

// New creates an empty Database
func New(opts ...Option) *Database {
	d := &Database{
		regs:   make(map[regKey]*registration),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With().Str("component", "database").Logger()
	d.events = newDispatcher(d.logger)
	return d
}

// Ref returns an unfiltered query on path
func (d *Database) Ref(path string) *Query {
	p := NormalizePath(path)
	return &Query{
		db:   d,
		path: p,
		segs: splitPath(p),
	}
}

// Get returns the data at path regardless of read rules
func (d *Database) Get(path string) DataSnapshot {
	p := NormalizePath(path)
	d.mu.RLock()
	defer d.mu.RUnlock()
	return newSnapshot(p, getAt(d.root, splitPath(p)))
}

// Set replaces the data at path. A nil value removes it.
func (d *Database) Set(path string, value any) error {
	if err := ValidatePath(path); err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	normalized, err := normalize(value)
	if err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}
	segs := splitPath(path)
	return d.write([][]string{segs}, func(root any) any {
		return setAt(root, segs, normalized)
	})
}

// Update writes each relative path in values below path in one atomic step
func (d *Database) Update(path string, values map[string]any) error {
	if err := ValidatePath(path); err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	base := splitPath(path)

	type change struct {
		segs  []string
		value any
	}
	changes := make([]change, 0, len(values))
	changed := make([][]string, 0, len(values))
	for rel, v := range values {
		if err := ValidatePath(rel); err != nil {
			return fmt.Errorf("invalid update path %q: %w", rel, err)
		}
		normalized, err := normalize(v)
		if err != nil {
			return fmt.Errorf("invalid value for %q: %w", rel, err)
		}
		segs := append(append([]string{}, base...), splitPath(rel)...)
		changes = append(changes, change{segs: segs, value: normalized})
		changed = append(changed, segs)
	}
	if len(changes) == 0 {
		return nil
	}

	return d.write(changed, func(root any) any {
		for _, c := range changes {
			root = setAt(root, c.segs, c.value)
		}
		return root
	})
}

// Remove deletes the data at path
func (d *Database) Remove(path string) error {
	return d.Set(path, nil)
}

// write applies fn to the tree and queues events for every registration
// whose query overlaps one of the changed paths
func (d *Database) write(changed [][]string, fn func(root any) any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	oldRoot := d.root
	d.root = fn(oldRoot)

	for _, reg := range d.regs {
		if reg.cancelled || reg.removed.Load() {
			continue
		}
		for _, segs := range changed {
			if related(segs, reg.query.segs) {
				d.events.push(reg.changes(oldRoot, d.root)...)
				break
			}
		}
	}
	return nil
}

// Sync blocks until every event caused by earlier writes and attaches has
// been delivered. It must not be called from a listener callback.
func (d *Database) Sync() {
	d.events.sync()
}

// SetRules replaces the read authorizer and cancels every listener that may
// no longer read its query
func (d *Database) SetRules(rules ReadAuthorizer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules = rules
	for _, reg := range d.regs {
		if reg.cancelled || reg.removed.Load() {
			continue
		}
		if err := d.checkRead(reg.query.path); err != nil {
			d.cancelLocked(reg, err)
		}
	}
}

// ListenerCount returns the number of attached listeners, including
// cancelled ones that were not removed yet
func (d *Database) ListenerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.regs)
}

// Close stops event delivery. Attached listeners are dropped silently.
func (d *Database) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for key, reg := range d.regs {
		reg.removed.Store(true)
		delete(d.regs, key)
	}
	d.mu.Unlock()

	d.events.close()
	d.logger.Debug().Msg("database closed")
}

func (d *Database) get(q *Query) (DataSnapshot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return DataSnapshot{}, ErrClosed
	}
	if err := d.checkRead(q.path); err != nil {
		return DataSnapshot{}, fmt.Errorf("%w: %s", ErrPermissionDenied, err.Message)
	}
	return newSnapshot(q.path, q.params.viewValue(getAt(d.root, q.segs))), nil
}

// checkRead must be called with d.mu held
func (d *Database) checkRead(path string) *Error {
	if d.rules == nil {
		return nil
	}
	ok, err := d.rules.CanRead(path, d.root)
	if err != nil {
		d.logger.Warn().Err(err).Str("path", path).Msg("read rule failed")
		return NewError(ErrCodePermissionDenied, fmt.Sprintf("client doesn't have permission to access %s", path))
	}
	if !ok {
		return NewError(ErrCodePermissionDenied, fmt.Sprintf("client doesn't have permission to access %s", path))
	}
	return nil
}

// cancelLocked revokes reg and queues its OnCancelled. Must hold d.mu.
func (d *Database) cancelLocked(reg *registration, err *Error) {
	reg.cancelled = true
	d.events.push(event{kind: kindCancelled, reg: reg, err: err})
	d.logger.Debug().
		Str("path", reg.query.path).
		Str("code", err.Code).
		Msg("listener cancelled")
}

func (d *Database) attach(q *Query, l Listener, value ValueEventListener, child ChildEventListener) {
	key := regKey{query: q.Identifier(), listener: l}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if _, exists := d.regs[key]; exists {
		return
	}

	reg := &registration{
		query:    q,
		listener: l,
		value:    value,
		child:    child,
	}
	d.regs[key] = reg

	if err := d.checkRead(q.path); err != nil {
		d.cancelLocked(reg, err)
		return
	}
	d.events.push(reg.initial(d.root)...)

	d.logger.Debug().
		Str("query", key.query).
		Bool("value", value != nil).
		Msg("listener attached")
}

func (d *Database) detach(q *Query, l Listener) {
	key := regKey{query: q.Identifier(), listener: l}

	d.mu.Lock()
	reg, ok := d.regs[key]
	if ok {
		delete(d.regs, key)
	}
	d.mu.Unlock()
	if !ok {
		return
	}

	reg.removed.Store(true)
	// Wait out an in-flight callback. Queued events see removed and are skipped.
	reg.mu.Lock()
	reg.mu.Unlock()

	d.logger.Debug().Str("query", key.query).Msg("listener detached")
}

// initial returns the events a new listener receives for the current data
func (r *registration) initial(root any) []event {
	node := getAt(root, r.query.segs)
	if r.value != nil {
		return []event{{
			kind:     kindValue,
			reg:      r,
			snapshot: newSnapshot(r.query.path, r.query.params.viewValue(node)),
		}}
	}
	view := r.query.params.view(node)
	events := make([]event, 0, len(view))
	for i, c := range view {
		events = append(events, event{
			kind:     kindChildAdded,
			reg:      r,
			snapshot: newSnapshot(childPath(r.query.path, c.key), c.value),
			prevKey:  prevKey(view, i),
		})
	}
	return events
}

// changes returns the events caused by moving from oldRoot to newRoot
func (r *registration) changes(oldRoot, newRoot any) []event {
	oldNode := getAt(oldRoot, r.query.segs)
	newNode := getAt(newRoot, r.query.segs)

	if r.value != nil {
		before := r.query.params.viewValue(oldNode)
		after := r.query.params.viewValue(newNode)
		if reflect.DeepEqual(before, after) {
			return nil
		}
		return []event{{
			kind:     kindValue,
			reg:      r,
			snapshot: newSnapshot(r.query.path, after),
		}}
	}
	return r.diffChildren(r.query.params.view(oldNode), r.query.params.view(newNode))
}

// diffChildren emits removed, added, moved and changed events, in that order
func (r *registration) diffChildren(before, after []child) []event {
	oldIndex := make(map[string]int, len(before))
	for i, c := range before {
		oldIndex[c.key] = i
	}
	newIndex := make(map[string]int, len(after))
	for i, c := range after {
		newIndex[c.key] = i
	}

	var removed, added, moved, changed []event
	for _, c := range before {
		if _, ok := newIndex[c.key]; !ok {
			removed = append(removed, event{
				kind:     kindChildRemoved,
				reg:      r,
				snapshot: newSnapshot(childPath(r.query.path, c.key), c.value),
			})
		}
	}
	for i, c := range after {
		snap := newSnapshot(childPath(r.query.path, c.key), c.value)
		j, existed := oldIndex[c.key]
		if !existed {
			added = append(added, event{kind: kindChildAdded, reg: r, snapshot: snap, prevKey: prevKey(after, i)})
			continue
		}
		old := before[j]
		if !reflect.DeepEqual(old.sort, c.sort) && prevKey(before, j) != prevKey(after, i) {
			moved = append(moved, event{kind: kindChildMoved, reg: r, snapshot: snap, prevKey: prevKey(after, i)})
		}
		if !reflect.DeepEqual(old.value, c.value) {
			changed = append(changed, event{kind: kindChildChanged, reg: r, snapshot: snap, prevKey: prevKey(after, i)})
		}
	}

	events := make([]event, 0, len(removed)+len(added)+len(moved)+len(changed))
	events = append(events, removed...)
	events = append(events, added...)
	events = append(events, moved...)
	return append(events, changed...)
}

func prevKey(view []child, i int) string {
	if i == 0 {
		return ""
	}
	return view[i-1].key
}
