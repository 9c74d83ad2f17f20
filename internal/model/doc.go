// Package model implements the entity model: a per-collection, per-scope
// state machine that caches authoritative records in the local store,
// exposes them as a push-based snapshot stream, and applies mutations
// optimistically before the remote write completes.
//
// STATE:
//
// A model keeps the last state confirmed by the remote gateway plus an
// ordered list of pending optimistic operations. The visible snapshot is
// always confirmed ⊕ pending. A successful remote write folds its operation
// into the confirmed state; a failed one is dropped, so rollback recomputes
// the snapshot from the confirmed state and the operations still in flight
// rather than restoring a captured copy.
//
// Each record identifier carries at most one in-flight mutation. A second
// mutation touching an identifier that is still pending fails fast with a
// CONFLICT error and leaves the snapshot untouched.
//
// STATUS:
//
//	Booting -> Ready        local store read finished (empty is not an error)
//	Ready   -> Stale        a refresh failed; data is kept
//	Stale   -> Ready        a later refresh succeeded
//	any     -> Error        the remote answered 200 with an undecodable body
//
// A model never returns to Booting.
//
// INVALIDATION:
//
// Every model subscribes to the mutation bus for its kind before it boots
// and refreshes on every matching event, whichever instance dispatched it.
// Refresh responses are fenced: a response older than the last applied one
// is dropped.
package model
