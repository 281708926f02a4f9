package database

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// normalize converts an arbitrary Go value into the tree representation.
// Objects become map[string]any, arrays become maps keyed by index,
// numbers become float64 and empty objects collapse to nil.
func normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case bool, string:
		return val, nil
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", val.String(), err)
		}
		return f, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if err := validateKey(k); err != nil {
				return nil, err
			}
			n, err := normalize(child)
			if err != nil {
				return nil, err
			}
			if n != nil {
				out[k] = n
			}
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out, nil
	case []any:
		out := make(map[string]any, len(val))
		for i, child := range val {
			n, err := normalize(child)
			if err != nil {
				return nil, err
			}
			if n != nil {
				out[strconv.Itoa(i)] = n
			}
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out, nil
	}

	// Structs and typed maps/slices go through their JSON form
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("unsupported value %T: %w", v, err)
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("unsupported value %T: %w", v, err)
	}
	return normalize(decoded)
}

// getAt returns the node at segs, or nil when it does not exist
func getAt(node any, segs []string) any {
	for _, seg := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[seg]
	}
	return node
}

// setAt returns a copy of node with value stored at segs. Only the maps on
// the path are copied, so earlier roots stay valid. Empty maps are pruned.
func setAt(node any, segs []string, value any) any {
	if len(segs) == 0 {
		return value
	}
	m, _ := node.(map[string]any)
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	child := setAt(m[segs[0]], segs[1:], value)
	if child == nil {
		delete(out, segs[0])
	} else {
		out[segs[0]] = child
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// deepCopy copies maps so callers cannot mutate the tree
func deepCopy(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, child := range m {
		out[k] = deepCopy(child)
	}
	return out
}

// sortedKeys returns the keys of m in key order
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return compareKeys(keys[i], keys[j]) < 0 })
	return keys
}

// compareKeys orders keys that parse as 32-bit integers first, numerically,
// followed by all other keys lexicographically
func compareKeys(a, b string) int {
	if a == b {
		return 0
	}
	ai, aInt := intKey(a)
	bi, bInt := intKey(b)
	switch {
	case aInt && bInt:
		if ai < bi {
			return -1
		}
		if ai > bi {
			return 1
		}
		return strings.Compare(a, b)
	case aInt:
		return -1
	case bInt:
		return 1
	}
	return strings.Compare(a, b)
}

func intKey(k string) (int64, bool) {
	n, err := strconv.ParseInt(k, 10, 32)
	if err != nil {
		return 0, false
	}
	// "007" and "-0" sort as strings
	if strconv.FormatInt(n, 10) != k {
		return 0, false
	}
	return n, true
}

// rank of a value type in value ordering
func rank(v any) int {
	switch val := v.(type) {
	case nil:
		return 0
	case bool:
		if !val {
			return 1
		}
		return 2
	case float64:
		return 3
	case string:
		return 4
	default:
		return 5
	}
}

// compareValues orders null < false < true < numbers < strings < objects.
// Objects compare equal to each other.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case float64:
		bv := b.(float64)
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
		return 0
	case string:
		return strings.Compare(av, b.(string))
	}
	return 0
}
