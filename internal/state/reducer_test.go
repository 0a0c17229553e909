package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac484/Xuanwu-sub001/internal/live"
)

func records(ids ...string) Records {
	out := Records{}
	for _, id := range ids {
		out[id] = live.Record{ID: id}
	}
	return out
}

func TestReduce_SetReplacesOnlyItsField(t *testing.T) {
	s := Empty()
	s = Reduce(s, Action{Type: SetIssues, Records: records("i1")})
	s = Reduce(s, Action{Type: SetTasks, Records: records("t1", "t2")})

	assert.Len(t, s.Tasks, 2)
	assert.Len(t, s.Issues, 1)
	assert.Empty(t, s.Files)
}

func TestReduce_FullReplaceNeverMerges(t *testing.T) {
	s := Empty()
	s = Reduce(s, Action{Type: SetTasks, Records: records("t1")})
	s = Reduce(s, Action{Type: SetTasks, Records: records("t2")})

	assert.Equal(t, records("t2"), s.Tasks)
	_, stale := s.Tasks["t1"]
	assert.False(t, stale)
}

func TestReduce_NilRecordsBecomeEmptyMap(t *testing.T) {
	s := Reduce(Empty(), Action{Type: SetFiles})
	require.NotNil(t, s.Files)
	assert.Empty(t, s.Files)
}

func TestReduce_Reset(t *testing.T) {
	s := Reduce(Empty(), Action{Type: SetTasks, Records: records("t1")})
	s = Reduce(s, Reset())

	assert.Equal(t, Empty(), s)
}

func TestReduce_IdempotentUnderRedelivery(t *testing.T) {
	batch := records("t1", "t2")
	once := Reduce(Empty(), Action{Type: SetTasks, Records: batch})
	twice := Reduce(once, Action{Type: SetTasks, Records: batch})

	assert.Equal(t, once, twice)
}

func TestReduce_UnknownActionIsNoop(t *testing.T) {
	s := Reduce(Empty(), Action{Type: SetTasks, Records: records("t1")})
	assert.Equal(t, s, Reduce(s, Action{Type: "SET_WIDGETS", Records: records("w1")}))
}

func TestSetAction(t *testing.T) {
	a, err := SetAction(live.Files, records("f1"))
	require.NoError(t, err)
	assert.Equal(t, SetFiles, a.Type)

	_, err = SetAction(live.AuditLog, nil)
	assert.Error(t, err)
}

func TestActionTypeCollection(t *testing.T) {
	c, ok := SetIssues.Collection()
	if !ok || c != live.Issues {
		t.Fatalf("SetIssues.Collection() = %q, %v", c, ok)
	}
	if _, ok := ResetState.Collection(); ok {
		t.Fatal("reset must not map to a collection")
	}
}
