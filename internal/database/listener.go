package database

// Listener is implemented by every event listener. OnCancelled is called at
// most once when the database revokes the listener, for example because read
// access was denied. A cancelled listener receives no further events.
type Listener interface {
	OnCancelled(err *Error)
}

// ValueEventListener receives the full value of a query whenever it changes
type ValueEventListener interface {
	Listener
	OnDataChange(snapshot DataSnapshot)
}

// ChildEventListener receives structural changes among the direct children
// of a query. previousChildKey is the key of the sibling ordered before the
// child, or "" when the child is first.
type ChildEventListener interface {
	Listener
	OnChildAdded(snapshot DataSnapshot, previousChildKey string)
	OnChildChanged(snapshot DataSnapshot, previousChildKey string)
	OnChildRemoved(snapshot DataSnapshot)
	OnChildMoved(snapshot DataSnapshot, previousChildKey string)
}
