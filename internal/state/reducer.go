package state

import (
	"fmt"

	"github.com/ac484/Xuanwu-sub001/internal/live"
)

type ActionType string

const (
	SetTasks   ActionType = "SET_TASKS"
	SetIssues  ActionType = "SET_ISSUES"
	SetFiles   ActionType = "SET_FILES"
	ResetState ActionType = "RESET_STATE"
)

type Action struct {
	Type    ActionType
	Records Records
}

// SetAction builds the replace action for collection c.
func SetAction(c live.Collection, records Records) (Action, error) {
	switch c {
	case live.Tasks:
		return Action{Type: SetTasks, Records: records}, nil
	case live.Issues:
		return Action{Type: SetIssues, Records: records}, nil
	case live.Files:
		return Action{Type: SetFiles, Records: records}, nil
	default:
		return Action{}, fmt.Errorf("state: collection %q is not tracked", c)
	}
}

// Collection returns the collection a SET action replaces.
func (t ActionType) Collection() (live.Collection, bool) {
	switch t {
	case SetTasks:
		return live.Tasks, true
	case SetIssues:
		return live.Issues, true
	case SetFiles:
		return live.Files, true
	default:
		return "", false
	}
}

func Reset() Action {
	return Action{Type: ResetState}
}

// Reduce returns the state after applying action. A SET action replaces the
// whole field; records are never merged with the previous value. Unknown
// actions leave the state unchanged.
func Reduce(s State, action Action) State {
	switch action.Type {
	case SetTasks:
		s.Tasks = orEmpty(action.Records)
	case SetIssues:
		s.Issues = orEmpty(action.Records)
	case SetFiles:
		s.Files = orEmpty(action.Records)
	case ResetState:
		return Empty()
	}
	return s
}

func orEmpty(records Records) Records {
	if records == nil {
		return Records{}
	}
	return records
}
