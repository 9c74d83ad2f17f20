// Package engine implements the single-writer scheduler that drives
// derived-view recomputation.
//
// ARCHITECTURE:
//
// Single-Writer Job Loop:
// Jobs run one at a time, in FIFO order, so every dataflow node observes a
// consistent set of upstream snapshots while it recomputes. Jobs that are
// scheduled under the same key while one is still pending coalesce into a
// single run; a node that receives ten upstream changes before it gets a
// turn recomputes once.
//
// Two driving modes exist:
//   - Run(ctx) owns a goroutine and processes jobs as they arrive.
//   - Inline mode (WithInline) drains the queue on the scheduling
//     goroutine. Reentrant scheduling from inside a job queues behind it.
//     Tests and the scenario harness use this for deterministic traces.
//
// Drain(ctx) processes whatever is queued on the caller's goroutine and is
// used by one-shot commands that never start Run.
//
// Job errors are logged and processing continues; recomputation is
// idempotent, so the next upstream change repairs a failed node.
package engine
