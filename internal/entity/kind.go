package entity

import "fmt"

// Kind names a collection of records. Mutation events, local-store
// namespaces and remote routes are all keyed by Kind.
type Kind string

const (
	KindTabs       Kind = "tabs"
	KindCategories Kind = "categories"
	KindLinks      Kind = "links"
	KindCatalog    Kind = "catalog"
	KindSettings   Kind = "settings"
	KindUsers      Kind = "users"
)

// Kinds lists every collection kind in a stable order.
var Kinds = []Kind{KindTabs, KindCategories, KindLinks, KindCatalog, KindSettings, KindUsers}

// Valid reports whether k is a known collection kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ScopeField returns the JSON field that carries the parent-scoping key
// for records of this kind.
func (k Kind) ScopeField() string {
	switch k {
	case KindTabs, KindCatalog, KindSettings:
		return "userIdentifier"
	case KindCategories:
		return "tabIdentifier"
	case KindLinks:
		return "categoryIdentifier"
	default:
		return "id"
	}
}

// ParseKind converts a string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown collection kind %q", s)
	}
	return k, nil
}

// Op is the kind of mutation applied to a collection.
type Op string

const (
	OpCreate     Op = "create"
	OpUpdate     Op = "update"
	OpDelete     Op = "delete"
	OpCreateMany Op = "create_many"
	OpUpdateMany Op = "update_many"
	OpDeleteMany Op = "delete_many"
)

// Valid reports whether o is a known operation.
func (o Op) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete, OpCreateMany, OpUpdateMany, OpDeleteMany:
		return true
	}
	return false
}

// Many reports whether o carries a list of records.
func (o Op) Many() bool {
	return o == OpCreateMany || o == OpUpdateMany || o == OpDeleteMany
}

// Single returns the per-record form of o (create_many -> create).
func (o Op) Single() Op {
	switch o {
	case OpCreateMany:
		return OpCreate
	case OpUpdateMany:
		return OpUpdate
	case OpDeleteMany:
		return OpDelete
	}
	return o
}

// Plural returns the list form of o (create -> create_many).
func (o Op) Plural() Op {
	switch o {
	case OpCreate:
		return OpCreateMany
	case OpUpdate:
		return OpUpdateMany
	case OpDelete:
		return OpDeleteMany
	}
	return o
}

// ParseOp converts a string into an Op.
func ParseOp(s string) (Op, error) {
	o := Op(s)
	if !o.Valid() {
		return "", fmt.Errorf("unknown operation %q", s)
	}
	return o, nil
}
