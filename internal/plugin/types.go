package plugin

import (
	"encoding/json"
	"fmt"
	"strings"

	"rtbridge/internal/database"
)

// Methods served by DatabasePlugin
const (
	MethodQueryObserve = "Query#observe"
	MethodQueryGet     = "Query#get"
	MethodRefSet       = "DatabaseReference#set"
	MethodRefUpdate    = "DatabaseReference#update"
	MethodRefRemove    = "DatabaseReference#remove"
)

// ChannelPrefix prefixes the name of every query event channel
const ChannelPrefix = "rtbridge/query/"

// Owner records channels created on behalf of a connection
type Owner interface {
	Own(name string)
}

// QueryArgs describes a query in method params
type QueryArgs struct {
	Path         string          `json:"path"`
	OrderBy      string          `json:"orderBy,omitempty"` // key, value or child
	OrderByChild string          `json:"orderByChild,omitempty"`
	StartAt      json.RawMessage `json:"startAt,omitempty"`
	EndAt        json.RawMessage `json:"endAt,omitempty"`
	EqualTo      json.RawMessage `json:"equalTo,omitempty"`
	LimitToFirst int             `json:"limitToFirst,omitempty"`
	LimitToLast  int             `json:"limitToLast,omitempty"`
}

// build turns the args into a query on db
func (a *QueryArgs) build(db *database.Database) (*database.Query, error) {
	if err := database.ValidatePath(a.Path); err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	q := db.Ref(a.Path)

	orderBy := strings.ToLower(a.OrderBy)
	if orderBy == "" && a.OrderByChild != "" {
		orderBy = "child"
	}
	switch orderBy {
	case "":
	case "key":
		q = q.OrderByKey()
	case "value":
		q = q.OrderByValue()
	case "child":
		if a.OrderByChild == "" {
			return nil, fmt.Errorf("orderByChild is required when ordering by child")
		}
		if err := database.ValidatePath(a.OrderByChild); err != nil {
			return nil, fmt.Errorf("invalid orderByChild: %w", err)
		}
		q = q.OrderByChild(a.OrderByChild)
	default:
		return nil, fmt.Errorf("unknown orderBy: %s", a.OrderBy)
	}

	if len(a.EqualTo) > 0 {
		if len(a.StartAt) > 0 || len(a.EndAt) > 0 {
			return nil, fmt.Errorf("equalTo cannot be combined with startAt or endAt")
		}
		v, err := decodeBound(a.EqualTo)
		if err != nil {
			return nil, fmt.Errorf("invalid equalTo: %w", err)
		}
		q = q.EqualTo(v)
	}
	if len(a.StartAt) > 0 {
		v, err := decodeBound(a.StartAt)
		if err != nil {
			return nil, fmt.Errorf("invalid startAt: %w", err)
		}
		q = q.StartAt(v)
	}
	if len(a.EndAt) > 0 {
		v, err := decodeBound(a.EndAt)
		if err != nil {
			return nil, fmt.Errorf("invalid endAt: %w", err)
		}
		q = q.EndAt(v)
	}

	if a.LimitToFirst < 0 || a.LimitToLast < 0 {
		return nil, fmt.Errorf("limits must not be negative")
	}
	if a.LimitToFirst > 0 && a.LimitToLast > 0 {
		return nil, fmt.Errorf("limitToFirst and limitToLast are exclusive")
	}
	if a.LimitToFirst > 0 {
		q = q.LimitToFirst(a.LimitToFirst)
	}
	if a.LimitToLast > 0 {
		q = q.LimitToLast(a.LimitToLast)
	}
	return q, nil
}

// decodeBound decodes a range bound. Only scalars are valid bounds.
func decodeBound(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	switch v.(type) {
	case nil, bool, float64, string:
		return v, nil
	default:
		return nil, fmt.Errorf("bound must be a scalar, got %T", v)
	}
}

// WriteArgs are the params of the DatabaseReference write methods
type WriteArgs struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}
