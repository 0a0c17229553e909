package search

import (
	"context"
	"log"

	"github.com/ac484/Xuanwu-sub001/internal/eventbus"
	"github.com/ac484/Xuanwu-sub001/internal/session"
)

type searcher interface {
	Healthy() bool
	Search(q Query) ([]Result, int, error)
}

type index interface {
	searcher
	Upsert(t ResultType, docs []Document) error
	Delete(t ResultType, id string) error
}

type recordLoader interface {
	searcher
	LoadAllRecords(ctx context.Context) (map[ResultType][]Document, error)
}

// Service tries Meilisearch first and falls back to Postgres full-text search.
// Either side may be absent.
type Service struct {
	primary  index
	fallback recordLoader
	logf     func(string, ...any)
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured; pgfts may be nil when no database is wired.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{logf: log.Printf}
	if meili != nil {
		s.primary = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
	}
	return s
}

func (s *Service) Search(q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logf("search: meilisearch error, falling back to pgfts: %v", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.logf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) indexing() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Index upserts one document (fire-and-forget to Meilisearch).
func (s *Service) Index(t ResultType, doc Document) {
	if !s.indexing() {
		return
	}
	go func() {
		if err := s.primary.Upsert(t, []Document{doc}); err != nil {
			s.logf("search: index %s %s: %v", t, doc.ID, err)
		}
	}()
}

// Remove deletes one document (fire-and-forget).
func (s *Service) Remove(t ResultType, id string) {
	if !s.indexing() {
		return
	}
	go func() {
		if err := s.primary.Delete(t, id); err != nil {
			s.logf("search: delete %s %s: %v", t, id, err)
		}
	}()
}

// ReindexAllFromPG pushes every record in Postgres into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.indexing() || s.fallback == nil {
		return
	}
	all, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		s.logf("search: reindex load failed: %v", err)
		return
	}
	for _, t := range resultTypes {
		if err := s.primary.Upsert(t, all[t]); err != nil {
			s.logf("search: reindex %s: %v", t, err)
		}
	}
}

var indexedEvents = []string{
	session.EventTaskCreated,
	session.EventTaskUpdated,
	session.EventTaskDeleted,
	session.EventIssueCreated,
	session.EventIssueUpdated,
	session.EventIssueDeleted,
	session.EventFileUploaded,
	session.EventFileDeleted,
	session.EventDailyCreated,
}

// Attach keeps the index in step with the writes published on bus.
func (s *Service) Attach(bus *eventbus.Bus) func() {
	unsubs := make([]func(), 0, len(indexedEvents))
	for _, eventType := range indexedEvents {
		unsubs = append(unsubs, bus.Subscribe(eventType, s.handle))
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func (s *Service) handle(_ context.Context, ev eventbus.Event) error {
	payload, ok := ev.Payload.(session.DomainEvent)
	if !ok {
		return nil
	}
	switch ev.Type {
	case session.EventTaskDeleted, session.EventIssueDeleted, session.EventFileDeleted:
		if t, ok := TypeFor(payload.Collection); ok {
			s.Remove(t, payload.Target)
		}
	default:
		if payload.Record == nil {
			return nil
		}
		if t, doc, ok := DocumentFor(payload.Collection, *payload.Record); ok {
			s.Index(t, doc)
		}
	}
	return nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
