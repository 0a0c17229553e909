// Package state holds the local context state of one entity and the pure
// reducer that is its only mutator.
package state

import "github.com/ac484/Xuanwu-sub001/internal/live"

type Records map[string]live.Record

// State is the per-entity view of the live sub-collections. Every field is a
// non-nil map once produced by Empty or Reduce.
type State struct {
	Tasks  Records `json:"tasks"`
	Issues Records `json:"issues"`
	Files  Records `json:"files"`
}

func Empty() State {
	return State{
		Tasks:  Records{},
		Issues: Records{},
		Files:  Records{},
	}
}

// Collection returns the field backing c, or nil for collections the state
// does not track.
func (s State) Collection(c live.Collection) Records {
	switch c {
	case live.Tasks:
		return s.Tasks
	case live.Issues:
		return s.Issues
	case live.Files:
		return s.Files
	default:
		return nil
	}
}

// Counts reports the record count per tracked collection.
func (s State) Counts() map[live.Collection]int {
	return map[live.Collection]int{
		live.Tasks:  len(s.Tasks),
		live.Issues: len(s.Issues),
		live.Files:  len(s.Files),
	}
}
