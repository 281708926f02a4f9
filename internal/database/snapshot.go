package database

// DataSnapshot is an immutable copy of the data at a location
type DataSnapshot struct {
	Key   string `json:"key"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

func newSnapshot(path string, value any) DataSnapshot {
	return DataSnapshot{
		Key:   lastKey(path),
		Path:  path,
		Value: deepCopy(value),
	}
}

// Exists reports whether the snapshot holds data
func (s DataSnapshot) Exists() bool {
	return s.Value != nil
}

// Child returns the snapshot of a descendant location
func (s DataSnapshot) Child(path string) DataSnapshot {
	segs := splitPath(path)
	return newSnapshot(joinPath(append(splitPath(s.Path), segs...)), getAt(s.Value, segs))
}

// Children returns the direct children in key order
func (s DataSnapshot) Children() []DataSnapshot {
	m, ok := s.Value.(map[string]any)
	if !ok {
		return nil
	}
	out := make([]DataSnapshot, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, newSnapshot(childPath(s.Path, k), m[k]))
	}
	return out
}
