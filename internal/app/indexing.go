package app

import (
	"context"

	"github.com/rs/zerolog"

	"formsmith/api/internal/form"
	"formsmith/api/internal/search"
)

// indexingStore refreshes the search index after every successful save made
// through an editing session.
type indexingStore struct {
	formStore
	index formIndex
	log   zerolog.Logger
}

func (s indexingStore) CreateForm(ctx context.Context, doc form.Document) (form.Document, error) {
	saved, err := s.formStore.CreateForm(ctx, doc)
	if err != nil {
		return saved, err
	}
	s.indexSaved(ctx, saved)
	return saved, nil
}

func (s indexingStore) UpdateForm(ctx context.Context, doc form.Document) (form.Document, error) {
	saved, err := s.formStore.UpdateForm(ctx, doc)
	if err != nil {
		return saved, err
	}
	s.indexSaved(ctx, saved)
	return saved, nil
}

func (s indexingStore) indexSaved(ctx context.Context, doc form.Document) {
	collaborators, err := s.formStore.ListCollaborators(ctx, doc.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("form_id", doc.ID).Msg("index saved form")
		return
	}
	s.index.IndexForm(search.RecordFor(doc, collaborators))
}
