// Package plugin serves the host method calls on the realtime database.
//
// Query methods take the query as params:
//
//	{"path": "/scores", "orderBy": "value", "limitToLast": 3}
//
// Query#observe returns the name of an event channel. The host then sends
// EventChannel#listen with {"eventType": "value"} or one of the child
// event types to start receiving events for that query.
package plugin
