// Package websocket streams license lifecycle events to connected clients.
//
// A Hub owns the client set and fans out messages from a single goroutine.
// It implements license.EventPublisher, so the license manager publishes
// into it without knowing about connections. Publish never blocks; when the
// broadcast queue is full the event is dropped and counted.
//
// Clients are read-only subscribers: the only inbound message understood is
// a heartbeat.
package websocket
