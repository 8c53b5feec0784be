package search

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Service tries the primary index first and falls back to a secondary
// searcher. Either may be nil.
type Service struct {
	index    Index
	fallback Searcher
	log      zerolog.Logger
	pending  sync.WaitGroup
}

func NewService(index Index, fallback Searcher, logger zerolog.Logger) *Service {
	return &Service{
		index:    index,
		fallback: fallback,
		log:      logger.With().Str("component", "search").Logger(),
	}
}

// Enabled reports whether any backend is configured.
func (s *Service) Enabled() bool {
	return s.index != nil || s.fallback != nil
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("index search failed, falling back")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("fallback search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexCard pushes a card to the index in the background.
func (s *Service) IndexCard(card CardRecord) {
	s.async("index card", card.ID, func(index Index) error {
		return index.IndexCards([]CardRecord{card})
	})
}

func (s *Service) IndexComment(comment CommentRecord) {
	s.async("index comment", comment.ID, func(index Index) error {
		return index.IndexComments([]CommentRecord{comment})
	})
}

func (s *Service) DeleteCards(ids []string) {
	if len(ids) == 0 {
		return
	}
	s.async("delete cards", ids[0], func(index Index) error {
		return index.DeleteCards(ids)
	})
}

func (s *Service) DeleteComments(ids []string) {
	if len(ids) == 0 {
		return
	}
	s.async("delete comments", ids[0], func(index Index) error {
		return index.DeleteComments(ids)
	})
}

func (s *Service) async(op, id string, fn func(Index) error) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := fn(s.index); err != nil {
			s.log.Warn().Err(err).Str("op", op).Str("id", id).Msg("index update failed")
		}
	}()
}

// Wait blocks until background index updates have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// ReindexAllFromPG pushes every card and comment stored in Postgres into the
// index.
func (s *Service) ReindexAllFromPG(ctx context.Context, pg *PgFTS) {
	if s.index == nil || !s.index.Healthy() || pg == nil {
		return
	}
	cards, comments, err := pg.LoadAllRecords(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.index.IndexCards(cards); err != nil {
		s.log.Error().Err(err).Msg("reindex cards")
	}
	if err := s.index.IndexComments(comments); err != nil {
		s.log.Error().Err(err).Msg("reindex comments")
	}
	s.log.Info().Int("cards", len(cards)).Int("comments", len(comments)).Msg("reindex finished")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
