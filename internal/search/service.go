package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocument indexes a document (fire-and-forget to Meilisearch).
func (s *Service) IndexDocument(doc DocumentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexDocument(doc); err != nil {
			log.Printf("search: index document %s: %v", doc.ID, err)
		}
	}()
}

// IndexEvent indexes a score log entry (fire-and-forget to Meilisearch).
func (s *Service) IndexEvent(event EventRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexEvent(event); err != nil {
			log.Printf("search: index event %s: %v", event.ID, err)
		}
	}()
}

// Reindex bulk-loads all records from Postgres into Meilisearch.
func (s *Service) Reindex(ctx context.Context) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	documents, events, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		return err
	}
	if err := s.meili.IndexDocuments(documents); err != nil {
		return err
	}
	return s.meili.IndexEvents(events)
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
