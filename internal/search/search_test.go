package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac484/Xuanwu-sub001/internal/eventbus"
	"github.com/ac484/Xuanwu-sub001/internal/live"
	"github.com/ac484/Xuanwu-sub001/internal/session"
)

type fakeIndex struct {
	mu        sync.Mutex
	healthy   bool
	searchErr error
	results   []Result
	queries   []Query
	docs      map[ResultType]map[string]Document
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{healthy: true, docs: make(map[ResultType]map[string]Document)}
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) Search(q Query) ([]Result, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.searchErr != nil {
		return nil, 0, f.searchErr
	}
	return f.results, len(f.results), nil
}

func (f *fakeIndex) Upsert(t ResultType, docs []Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docs[t] == nil {
		f.docs[t] = make(map[string]Document)
	}
	for _, d := range docs {
		f.docs[t][d.ID] = d
	}
	return nil
}

func (f *fakeIndex) Delete(t ResultType, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs[t], id)
	return nil
}

func (f *fakeIndex) doc(t ResultType, id string) (Document, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[t][id]
	return d, ok
}

type fakeLoader struct {
	*fakeIndex
	all map[ResultType][]Document
}

func (f *fakeLoader) LoadAllRecords(context.Context) (map[ResultType][]Document, error) {
	return f.all, nil
}

func quietService(primary index, fallback recordLoader) *Service {
	return &Service{primary: primary, fallback: fallback, logf: func(string, ...any) {}}
}

func TestSearch_PrefersHealthyPrimary(t *testing.T) {
	primary := newFakeIndex()
	primary.results = []Result{{Type: ResultTask, ID: "t1", Title: "Pour slab"}}
	fallback := &fakeLoader{fakeIndex: newFakeIndex()}

	resp := quietService(primary, fallback).Search(Query{AccountID: "acc_1", Text: "slab"})
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "t1", resp.Results[0].ID)
	assert.Empty(t, fallback.queries)
}

func TestSearch_FallsBackOnPrimaryError(t *testing.T) {
	primary := newFakeIndex()
	primary.searchErr = errors.New("down")
	fallback := &fakeLoader{fakeIndex: newFakeIndex()}
	fallback.results = []Result{{Type: ResultIssue, ID: "i1"}}

	resp := quietService(primary, fallback).Search(Query{AccountID: "acc_1", Text: "crack"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, ResultIssue, resp.Results[0].Type)
	assert.Equal(t, "crack", resp.Query)
}

func TestSearch_UnhealthyPrimarySkipped(t *testing.T) {
	primary := newFakeIndex()
	primary.healthy = false
	fallback := &fakeLoader{fakeIndex: newFakeIndex()}

	resp := quietService(primary, fallback).Search(Query{AccountID: "acc_1", Text: "x"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, primary.queries)
	assert.Len(t, fallback.queries, 1)
}

func TestSearch_NothingConfigured(t *testing.T) {
	resp := NewService(nil, nil).Search(Query{AccountID: "acc_1", Text: "x"})
	assert.Equal(t, []Result{}, resp.Results)
	assert.Zero(t, resp.Total)
}

func TestDocumentFor(t *testing.T) {
	rec := live.Record{ID: "i1", AccountID: "acc_1", SpaceID: "spc_1", Fields: map[string]any{
		"title": "Leak", "body": "water in basement", "status": "open",
	}}
	typ, doc, ok := DocumentFor(live.Issues, rec)
	require.True(t, ok)
	assert.Equal(t, ResultIssue, typ)
	assert.Equal(t, Document{ID: "i1", AccountID: "acc_1", SpaceID: "spc_1", Title: "Leak", Body: "water in basement", Status: "open"}, doc)

	long := live.Record{ID: "d1", AccountID: "acc_1", Fields: map[string]any{"content": fmt.Sprintf("%0100d", 0)}}
	_, doc, ok = DocumentFor(live.DailyLog, long)
	require.True(t, ok)
	assert.Len(t, doc.Title, 83)
	assert.Len(t, doc.Body, 100)

	_, _, ok = DocumentFor(live.AuditLog, rec)
	assert.False(t, ok)
}

func TestParseType(t *testing.T) {
	typ, ok := ParseType("file")
	assert.True(t, ok)
	assert.Equal(t, ResultFile, typ)

	typ, ok = ParseType("")
	assert.True(t, ok)
	assert.Empty(t, typ)

	_, ok = ParseType("document")
	assert.False(t, ok)
}

func TestAttach_IndexesPublishedWrites(t *testing.T) {
	primary := newFakeIndex()
	svc := quietService(primary, nil)
	bus := eventbus.New()
	defer bus.Close()
	detach := svc.Attach(bus)

	rec := live.Record{ID: "t1", AccountID: "acc_1", SpaceID: "spc_1", Fields: map[string]any{"title": "Pour slab", "status": "open"}}
	bus.Publish(session.EventTaskCreated, session.DomainEvent{AccountID: "acc_1", SpaceID: "spc_1", Target: "t1", Collection: live.Tasks, Record: &rec})
	bus.Flush()

	require.Eventually(t, func() bool {
		doc, ok := primary.doc(ResultTask, "t1")
		return ok && doc.Title == "Pour slab"
	}, time.Second, 10*time.Millisecond)

	bus.Publish(session.EventTaskDeleted, session.DomainEvent{AccountID: "acc_1", Target: "t1", Collection: live.Tasks})
	bus.Flush()
	require.Eventually(t, func() bool {
		_, ok := primary.doc(ResultTask, "t1")
		return !ok
	}, time.Second, 10*time.Millisecond)

	detach()
	bus.Publish(session.EventTaskCreated, session.DomainEvent{AccountID: "acc_1", Target: "t1", Collection: live.Tasks, Record: &rec})
	bus.Flush()
	time.Sleep(20 * time.Millisecond)
	_, ok := primary.doc(ResultTask, "t1")
	assert.False(t, ok)
}

func TestReindexAllFromPG(t *testing.T) {
	primary := newFakeIndex()
	loader := &fakeLoader{fakeIndex: newFakeIndex(), all: map[ResultType][]Document{
		ResultTask:  {{ID: "t1", AccountID: "acc_1", Title: "Pour slab"}},
		ResultDaily: {{ID: "d1", AccountID: "acc_1", Title: "Rain"}},
	}}
	quietService(primary, loader).ReindexAllFromPG(context.Background())

	_, ok := primary.doc(ResultTask, "t1")
	assert.True(t, ok)
	_, ok = primary.doc(ResultDaily, "d1")
	assert.True(t, ok)
}
