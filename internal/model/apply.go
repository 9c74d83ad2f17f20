package model

import "github.com/roach88/marksync/internal/entity"

// applyOp returns list with op applied to records. list is not modified.
//
// Records whose scope key differs from scope are not visible in this
// model: a create of such a record is skipped and an update that moves a
// record elsewhere removes it. An empty scope accepts every record.
func applyOp[T entity.Record[T]](list []T, op entity.Op, records []T, scope string) []T {
	out := make([]T, len(list), len(list)+len(records))
	copy(out, list)

	for _, r := range records {
		idx := indexOf(out, r.Identifier())
		inScope := scope == "" || r.ScopeKey() == scope

		switch op {
		case entity.OpCreate:
			switch {
			case !inScope:
			case idx >= 0:
				out[idx] = r
			default:
				out = append(out, r)
			}

		case entity.OpUpdate:
			if idx < 0 {
				continue
			}
			if !inScope {
				out = append(out[:idx], out[idx+1:]...)
				continue
			}
			out[idx] = r

		case entity.OpDelete:
			if idx < 0 {
				continue
			}
			out[idx] = out[idx].WithDeleted(true)
		}
	}
	return out
}

func indexOf[T entity.Record[T]](list []T, id string) int {
	for i, r := range list {
		if r.Identifier() == id {
			return i
		}
	}
	return -1
}

func cloneList[T any](list []T) []T {
	out := make([]T, len(list))
	copy(out, list)
	return out
}
