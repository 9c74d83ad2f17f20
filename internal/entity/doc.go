// Package entity defines the bookmark records synchronized by marksync.
//
// Every record is uniquely identified, soft-deletable and scoped to a parent
// key (a link belongs to a category, a category to a tab, a tab to a user).
// Records are plain values: models copy them freely and never share
// pointers into a snapshot.
//
// The generic Record constraint lets a single Entity Model implementation
// serve every collection:
//
//	type Record[T any] interface {
//	    Identifier() string
//	    Deleted() bool
//	    ScopeKey() string
//	    WithDeleted(bool) T
//	}
package entity
