// Package audit records license events in an append-only log.
//
// Writes are best effort: callers log and count a failed Record but never
// let it change the outcome of the operation being audited. Event context
// is sanitised before it is stored so token blobs and key material never
// reach the log.
package audit
