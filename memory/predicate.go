package memory

import (
	"time"

	"github.com/becomeliminal/nim-finagent/core"
)

// Predicate selects audit entries in Query.
type Predicate func(core.AuditEntry) bool

// OfKind matches entries of any of the given kinds.
func OfKind(kinds ...core.AuditKind) Predicate {
	return func(e core.AuditEntry) bool {
		for _, k := range kinds {
			if e.Kind == k {
				return true
			}
		}
		return false
	}
}

// RefersTo matches entries whose subject is id.
func RefersTo(id string) Predicate {
	return func(e core.AuditEntry) bool {
		return id != "" && e.Subject() == id
	}
}

// Since matches entries recorded at or after t.
func Since(t time.Time) Predicate {
	return func(e core.AuditEntry) bool {
		return !e.Timestamp.Before(t)
	}
}

// And matches entries every predicate accepts. Nil predicates are ignored.
func And(preds ...Predicate) Predicate {
	return func(e core.AuditEntry) bool {
		for _, p := range preds {
			if p != nil && !p(e) {
				return false
			}
		}
		return true
	}
}

// Match applies pred, treating nil as match-all.
func Match(pred Predicate, e core.AuditEntry) bool {
	return pred == nil || pred(e)
}
