package app

import (
	"context"
	"errors"
	"strings"

	"github.com/windorg/woc-sub000/internal/cards"
	"github.com/windorg/woc-sub000/internal/search"
)

const maxSearchLimit = 100

// Search queries the index and drops every hit the viewer cannot see. The
// index has no notion of visibility, so each hit goes through the engine.
func (s *Service) Search(ctx context.Context, viewerID string, q search.Query) (search.Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	if q.Limit <= 0 || q.Limit > maxSearchLimit {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	resp := s.search.Search(ctx, q)
	visible := make([]search.Result, 0, len(resp.Results))
	for _, hit := range resp.Results {
		ok, err := s.canSeeHit(ctx, viewerID, hit)
		if err != nil {
			return search.Response{}, err
		}
		if ok {
			visible = append(visible, hit)
		}
	}

	// Only hits dropped from this page are subtracted, so Total is an upper bound.
	total := resp.Total - (len(resp.Results) - len(visible))
	if total < len(visible) {
		total = len(visible)
	}
	return search.Response{Results: visible, Total: total, Query: q.Text}, nil
}

func (s *Service) canSeeHit(ctx context.Context, viewerID string, hit search.Result) (bool, error) {
	var err error
	switch hit.Type {
	case search.ResultCard:
		_, err = s.engine.GetNode(ctx, viewerID, hit.ID)
	case search.ResultComment:
		_, err = s.engine.GetComment(ctx, viewerID, hit.ID)
	default:
		return false, nil
	}
	if errors.Is(err, cards.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
