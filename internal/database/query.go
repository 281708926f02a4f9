package database

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// OrderBy selects how children of a query are sorted
type OrderBy int

const (
	OrderByKey OrderBy = iota
	OrderByValue
	OrderByChild
)

// String returns the wire name of the ordering
func (o OrderBy) String() string {
	switch o {
	case OrderByKey:
		return "key"
	case OrderByValue:
		return "value"
	case OrderByChild:
		return "child"
	default:
		return "unknown"
	}
}

// QueryParams holds the ordering, range and limit of a query
type QueryParams struct {
	OrderBy      OrderBy
	ChildPath    string // used with OrderByChild
	StartAt      any
	HasStart     bool
	EndAt        any
	HasEnd       bool
	LimitToFirst int
	LimitToLast  int
}

// IsDefault reports whether the params select the whole node unchanged
func (p QueryParams) IsDefault() bool {
	return p.OrderBy == OrderByKey && !p.HasStart && !p.HasEnd &&
		p.LimitToFirst == 0 && p.LimitToLast == 0
}

// identifier returns a canonical string for the params
func (p QueryParams) identifier() string {
	if p.IsDefault() {
		return "default"
	}
	var b strings.Builder
	b.WriteString(p.OrderBy.String())
	if p.OrderBy == OrderByChild {
		b.WriteString(":" + NormalizePath(p.ChildPath))
	}
	if p.HasStart {
		fmt.Fprintf(&b, "|sa=%v", p.StartAt)
	}
	if p.HasEnd {
		fmt.Fprintf(&b, "|ea=%v", p.EndAt)
	}
	if p.LimitToFirst > 0 {
		b.WriteString("|lf=" + strconv.Itoa(p.LimitToFirst))
	}
	if p.LimitToLast > 0 {
		b.WriteString("|ll=" + strconv.Itoa(p.LimitToLast))
	}
	return b.String()
}

// child is one entry of a query view
type child struct {
	key   string
	value any
	sort  any
}

// sortValue returns the value a child is ordered by
func (p QueryParams) sortValue(key string, value any) any {
	switch p.OrderBy {
	case OrderByValue:
		return value
	case OrderByChild:
		return getAt(value, splitPath(p.ChildPath))
	default:
		return key
	}
}

func (p QueryParams) compare(a, b child) int {
	if p.OrderBy == OrderByKey {
		return compareKeys(a.key, b.key)
	}
	if c := compareValues(a.sort, b.sort); c != 0 {
		return c
	}
	return compareKeys(a.key, b.key)
}

func (p QueryParams) inRange(c child) bool {
	if p.HasStart && p.compareBound(c, p.StartAt) < 0 {
		return false
	}
	if p.HasEnd && p.compareBound(c, p.EndAt) > 0 {
		return false
	}
	return true
}

func (p QueryParams) compareBound(c child, bound any) int {
	if p.OrderBy == OrderByKey {
		return compareKeys(c.key, fmt.Sprint(bound))
	}
	return compareValues(c.sort, bound)
}

// view returns the ordered, filtered and limited children of node
func (p QueryParams) view(node any) []child {
	m, ok := node.(map[string]any)
	if !ok {
		return nil
	}
	children := make([]child, 0, len(m))
	for k, v := range m {
		c := child{key: k, value: v, sort: p.sortValue(k, v)}
		if p.inRange(c) {
			children = append(children, c)
		}
	}
	sort.Slice(children, func(i, j int) bool { return p.compare(children[i], children[j]) < 0 })

	if p.LimitToFirst > 0 && len(children) > p.LimitToFirst {
		children = children[:p.LimitToFirst]
	}
	if p.LimitToLast > 0 && len(children) > p.LimitToLast {
		children = children[len(children)-p.LimitToLast:]
	}
	return children
}

// viewValue returns what a value listener on the query sees
func (p QueryParams) viewValue(node any) any {
	if p.IsDefault() {
		return node
	}
	children := p.view(node)
	if len(children) == 0 {
		return nil
	}
	out := make(map[string]any, len(children))
	for _, c := range children {
		out[c.key] = c.value
	}
	return out
}

// Query is a handle on a location of the tree with optional ordering and
// filtering. Queries are immutable; modifiers return a new Query.
type Query struct {
	db     *Database
	path   string
	segs   []string
	params QueryParams
}

// Path returns the normalized location of the query
func (q *Query) Path() string {
	return q.path
}

// Key returns the last path segment, or "" for the root
func (q *Query) Key() string {
	return lastKey(q.path)
}

// Params returns the query parameters
func (q *Query) Params() QueryParams {
	return q.params
}

// Identifier returns a canonical description of the query
func (q *Query) Identifier() string {
	return q.path + "?" + q.params.identifier()
}

// Child returns an unfiltered query on a descendant location
func (q *Query) Child(path string) *Query {
	return q.db.Ref(q.path + "/" + path)
}

func (q *Query) with(fn func(p *QueryParams)) *Query {
	clone := *q
	fn(&clone.params)
	return &clone
}

// OrderByKey orders children by key
func (q *Query) OrderByKey() *Query {
	return q.with(func(p *QueryParams) { p.OrderBy = OrderByKey; p.ChildPath = "" })
}

// OrderByValue orders children by their value
func (q *Query) OrderByValue() *Query {
	return q.with(func(p *QueryParams) { p.OrderBy = OrderByValue; p.ChildPath = "" })
}

// OrderByChild orders children by the value at path below each child
func (q *Query) OrderByChild(path string) *Query {
	return q.with(func(p *QueryParams) { p.OrderBy = OrderByChild; p.ChildPath = path })
}

// StartAt keeps children whose sort value is >= value
func (q *Query) StartAt(value any) *Query {
	bound := normalizeBound(value)
	return q.with(func(p *QueryParams) { p.StartAt = bound; p.HasStart = true })
}

// EndAt keeps children whose sort value is <= value
func (q *Query) EndAt(value any) *Query {
	bound := normalizeBound(value)
	return q.with(func(p *QueryParams) { p.EndAt = bound; p.HasEnd = true })
}

// normalizeBound brings numbers to float64 so they compare against tree data
func normalizeBound(value any) any {
	if n, err := normalize(value); err == nil {
		return n
	}
	return value
}

// EqualTo keeps children whose sort value equals value
func (q *Query) EqualTo(value any) *Query {
	return q.StartAt(value).EndAt(value)
}

// LimitToFirst keeps the first n children
func (q *Query) LimitToFirst(n int) *Query {
	return q.with(func(p *QueryParams) { p.LimitToFirst = n; p.LimitToLast = 0 })
}

// LimitToLast keeps the last n children
func (q *Query) LimitToLast(n int) *Query {
	return q.with(func(p *QueryParams) { p.LimitToLast = n; p.LimitToFirst = 0 })
}

// Get reads the current value of the query once
func (q *Query) Get() (DataSnapshot, error) {
	return q.db.get(q)
}

// AddValueEventListener attaches l for whole-node value changes and returns it.
// l first receives the current value.
func (q *Query) AddValueEventListener(l ValueEventListener) ValueEventListener {
	q.db.attach(q, l, l, nil)
	return l
}

// AddChildEventListener attaches l for child events and returns it.
// l first receives child_added for every existing child in query order.
func (q *Query) AddChildEventListener(l ChildEventListener) ChildEventListener {
	q.db.attach(q, l, nil, l)
	return l
}

// RemoveEventListener detaches l from this query. Removing a listener that is
// not attached is a no-op. It waits for a callback for l that is running on
// the event goroutine, so no callback for l runs after it returns. It must
// not be called from one of l's own callbacks.
func (q *Query) RemoveEventListener(l Listener) {
	q.db.detach(q, l)
}
