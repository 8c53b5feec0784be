package app

import (
	"context"

	"github.com/windorg/woc-sub000/internal/cards"
	"github.com/windorg/woc-sub000/internal/search"
)

type CreateCardInput struct {
	ParentID string               `json:"parentId"`
	Title    string               `json:"title"`
	Settings *cards.SettingsPatch `json:"settings"`
	cards.Placement
}

func (s *Service) GetCard(ctx context.Context, viewerID, id string) (cards.Node, error) {
	return withRetry(ctx, s, "get card", func() (cards.Node, error) {
		return s.engine.GetNode(ctx, viewerID, id)
	})
}

func (s *Service) ListChildren(ctx context.Context, viewerID, id string) ([]cards.Node, error) {
	return withRetry(ctx, s, "list children", func() ([]cards.Node, error) {
		return s.engine.ListChildren(ctx, viewerID, id)
	})
}

func (s *Service) ListBoards(ctx context.Context, viewerID, ownerID string) ([]cards.Node, error) {
	return withRetry(ctx, s, "list boards", func() ([]cards.Node, error) {
		return s.engine.ListBoards(ctx, viewerID, ownerID)
	})
}

func (s *Service) CreateCard(ctx context.Context, actorID string, input CreateCardInput) (cards.Node, error) {
	node, err := withRetry(ctx, s, "create card", func() (cards.Node, error) {
		return s.engine.CreateNode(ctx, actorID, cards.CreateInput{
			ParentID:  input.ParentID,
			Title:     input.Title,
			Settings:  input.Settings,
			Placement: input.Placement,
		})
	})
	if err != nil {
		return cards.Node{}, err
	}
	s.log.Info().Str("card_id", node.ID).Str("parent_id", node.ParentID).Str("actor_id", actorID).Msg("card created")
	s.search.IndexCard(cardRecord(node))
	return node, nil
}

func (s *Service) UpdateCard(ctx context.Context, actorID, id string, patch cards.NodePatch) (cards.Node, error) {
	node, err := withRetry(ctx, s, "update card", func() (cards.Node, error) {
		return s.engine.UpdateNode(ctx, actorID, id, patch)
	})
	if err != nil {
		return cards.Node{}, err
	}
	s.search.IndexCard(cardRecord(node))
	return node, nil
}

func (s *Service) DeleteCard(ctx context.Context, actorID, id string) (cards.DeleteResult, error) {
	result, err := withRetry(ctx, s, "delete card", func() (cards.DeleteResult, error) {
		return s.engine.DeleteNode(ctx, actorID, id)
	})
	if err != nil {
		return cards.DeleteResult{}, err
	}
	s.log.Info().Str("card_id", id).Int("removed", len(result.Deleted)).Str("actor_id", actorID).Msg("card deleted")
	s.search.DeleteCards(result.Deleted)
	s.forgetComments(ctx, result.DeletedComments)
	return result, nil
}

func (s *Service) MoveCard(ctx context.Context, actorID, id, newParentID string) (cards.MoveResult, error) {
	result, err := withRetry(ctx, s, "move card", func() (cards.MoveResult, error) {
		return s.engine.MoveNode(ctx, actorID, id, newParentID)
	})
	if err != nil {
		return cards.MoveResult{}, err
	}
	s.log.Info().Str("card_id", id).Str("parent_id", newParentID).Str("actor_id", actorID).Msg("card moved")
	s.search.IndexCard(cardRecord(result.Node))
	return result, nil
}

func (s *Service) ReorderChildren(ctx context.Context, actorID, parentID, childID string, placement cards.Placement) (cards.Order, error) {
	return withRetry(ctx, s, "reorder children", func() (cards.Order, error) {
		return s.engine.ReorderChildren(ctx, actorID, parentID, childID, placement)
	})
}

func (s *Service) FireCard(ctx context.Context, actorID, id string) (cards.FireResult, error) {
	return withRetry(ctx, s, "fire card", func() (cards.FireResult, error) {
		return s.engine.FireNode(ctx, actorID, id)
	})
}

func cardRecord(node cards.Node) search.CardRecord {
	return search.CardRecord{
		ID:       node.ID,
		Title:    node.Title,
		OwnerID:  node.OwnerID,
		ParentID: node.ParentID,
	}
}
