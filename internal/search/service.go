package search

import (
	"context"

	"github.com/rs/zerolog"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  Backend
	fallback Fallback
	log      zerolog.Logger
}

// Fallback is the store-backed searcher; it also feeds full reindexes.
type Fallback interface {
	Searcher
	LoadAllRecords(ctx context.Context) ([]FormRecord, error)
}

// NewService creates a search service. primary may be nil if Meilisearch is
// not configured.
func NewService(primary Backend, fallback Fallback, log zerolog.Logger) *Service {
	return &Service{primary: primary, fallback: fallback, log: log}
}

// Search tries the primary index if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("pgfts search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexForm indexes a form (fire-and-forget).
func (s *Service) IndexForm(rec FormRecord) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.IndexForms([]FormRecord{rec}); err != nil {
			s.log.Warn().Err(err).Str("form_id", rec.ID).Msg("index form")
		}
	}()
}

// DeleteForm removes a form from the index (fire-and-forget).
func (s *Service) DeleteForm(id string) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.DeleteForm(id); err != nil {
			s.log.Warn().Err(err).Str("form_id", id).Msg("delete form from index")
		}
	}()
}

// ReindexAll pushes every stored form to the primary index.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.primary == nil || !s.primary.Healthy() || s.fallback == nil {
		return
	}
	records, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.primary.IndexForms(records); err != nil {
		s.log.Error().Err(err).Msg("reindex forms")
		return
	}
	s.log.Info().Int("forms", len(records)).Msg("search index rebuilt")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
