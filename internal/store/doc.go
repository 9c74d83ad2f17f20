// Package store provides the durable local store that backs every Entity
// Model's read-through cache.
//
// The store is a namespaced key/value blob store. A namespace is one
// collection, optionally narrowed to an owning scope key
// ("links/<categoryID>", "tabs/<userID>"). Values are caller-serialized
// JSON records; the store never inspects them.
//
// # Backends
//
//   - memory: process-local maps, used by tests and the dev server
//   - sqlite: single-file database (WAL mode), the default client backend
//   - postgres: shared database for server-side sync agents
//   - file: one file per key, written atomically
//
// # Batches
//
// Apply writes a Batch of keyed upserts and deletes. SQL backends apply a
// batch inside one transaction, so a Reset followed by Puts replaces a
// namespace atomically. The file backend applies operations one by one;
// a crash mid-batch can leave a namespace partially written, which callers
// must tolerate (the next remote refresh rewrites it).
//
// The store is a cache, never the system of record: read failures are
// reported to the caller, who treats them as an empty namespace.
package store
