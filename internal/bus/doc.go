// Package bus implements the mutation bus: an in-process publish/subscribe
// channel carrying collection invalidation events.
//
// Delivery is synchronous and in dispatch order. Each subscriber sees an
// event at most once, and a subscriber that attaches after an event fired
// never sees it; there is no persistence and no replay.
//
// Any component may dispatch. Entity models dispatch after a confirmed
// remote write, and the feed listener dispatches when another client's
// write is announced by the server.
package bus
