package cards

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

type CommentInput struct {
	Content string `json:"content"`
	// Visibility defaults to public when empty.
	Visibility string `json:"visibility,omitempty"`
	Pinned     bool   `json:"pinned"`
}

type CommentPatch struct {
	Content    *string `json:"content,omitempty"`
	Visibility *string `json:"visibility,omitempty"`
	Pinned     *bool   `json:"pinned,omitempty"`
}

type ReplyInput struct {
	Content    string `json:"content"`
	Visibility string `json:"visibility,omitempty"`
}

// CreateReplyResult carries the comment so callers can notify its
// subscribers without another read.
type CreateReplyResult struct {
	Reply   Reply
	Comment Comment
}

// CreateComment adds a comment to a card. Only the card's owner may comment.
func (e *Engine) CreateComment(ctx context.Context, actorID, cardID string, input CommentInput) (Comment, error) {
	content, visibility, err := normalizeContent(input.Content, input.Visibility)
	if err != nil {
		return Comment{}, err
	}
	var created Comment
	err = e.store.Update(ctx, func(tx Tx) error {
		card, err := e.editableNode(ctx, tx, actorID, cardID)
		if err != nil {
			return err
		}
		now := e.now()
		comment := Comment{
			ID:         e.newID("cmt"),
			CardID:     card.ID,
			OwnerID:    actorID,
			Content:    content,
			Visibility: visibility,
			Pinned:     input.Pinned,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertComment(ctx, comment); err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
		created = comment
		return nil
	})
	if err != nil {
		return Comment{}, err
	}
	return created, nil
}

func (e *Engine) UpdateComment(ctx context.Context, actorID, id string, patch CommentPatch) (Comment, error) {
	var updated Comment
	err := e.store.Update(ctx, func(tx Tx) error {
		comment, err := e.editableComment(ctx, tx, actorID, id)
		if err != nil {
			return err
		}
		if patch.Content != nil {
			content := strings.TrimSpace(*patch.Content)
			if content == "" {
				return fmt.Errorf("%w: content is required", ErrInvalidInput)
			}
			comment.Content = content
		}
		if patch.Visibility != nil {
			visibility, err := ParseVisibility(*patch.Visibility)
			if err != nil {
				return err
			}
			comment.Visibility = visibility
		}
		if patch.Pinned != nil {
			comment.Pinned = *patch.Pinned
		}
		comment.UpdatedAt = e.now()
		if err := tx.UpdateComment(ctx, comment); err != nil {
			return fmt.Errorf("update comment: %w", err)
		}
		updated = comment
		return nil
	})
	if err != nil {
		return Comment{}, err
	}
	return updated, nil
}

// DeleteComment removes a comment and its replies.
func (e *Engine) DeleteComment(ctx context.Context, actorID, id string) (Comment, error) {
	var deleted Comment
	err := e.store.Update(ctx, func(tx Tx) error {
		comment, err := e.editableComment(ctx, tx, actorID, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteComment(ctx, comment.ID); err != nil {
			return fmt.Errorf("delete comment: %w", err)
		}
		deleted = comment
		return nil
	})
	if err != nil {
		return Comment{}, err
	}
	return deleted, nil
}

func (e *Engine) GetComment(ctx context.Context, viewerID, id string) (Comment, error) {
	var comment Comment
	err := e.store.View(ctx, func(tx Tx) error {
		found, _, err := e.visibleComment(ctx, tx, viewerID, id)
		if err != nil {
			return err
		}
		comment = found
		return nil
	})
	if err != nil {
		return Comment{}, err
	}
	return comment, nil
}

// ListComments returns the comments on a visible card, pinned first and then
// newest first.
func (e *Engine) ListComments(ctx context.Context, viewerID, cardID string) ([]Comment, error) {
	items := make([]Comment, 0)
	err := e.store.View(ctx, func(tx Tx) error {
		_, chain, err := e.visibleNode(ctx, tx, viewerID, cardID)
		if err != nil {
			return err
		}
		comments, err := tx.ListComments(ctx, cardID)
		if err != nil {
			return fmt.Errorf("list comments: %w", err)
		}
		for _, comment := range comments {
			if CanSeeComment(viewerID, comment, chain) {
				items = append(items, comment)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Pinned != items[j].Pinned {
			return items[i].Pinned
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

// CreateReply adds a reply to a comment. Any signed-in user who can see the
// comment may reply.
func (e *Engine) CreateReply(ctx context.Context, actorID, commentID string, input ReplyInput) (CreateReplyResult, error) {
	if actorID == "" {
		return CreateReplyResult{}, fmt.Errorf("create reply: %w", ErrForbidden)
	}
	content, visibility, err := normalizeContent(input.Content, input.Visibility)
	if err != nil {
		return CreateReplyResult{}, err
	}
	var result CreateReplyResult
	err = e.store.Update(ctx, func(tx Tx) error {
		comment, _, err := e.visibleComment(ctx, tx, actorID, commentID)
		if err != nil {
			return err
		}
		reply := Reply{
			ID:         e.newID("rep"),
			CommentID:  comment.ID,
			AuthorID:   actorID,
			Content:    content,
			Visibility: visibility,
			CreatedAt:  e.now(),
		}
		if err := tx.InsertReply(ctx, reply); err != nil {
			return fmt.Errorf("insert reply: %w", err)
		}
		result = CreateReplyResult{Reply: reply, Comment: comment}
		return nil
	})
	if err != nil {
		return CreateReplyResult{}, err
	}
	return result, nil
}

// DeleteReply removes a reply. The reply's author and the owner of the
// comment it belongs to may delete it.
func (e *Engine) DeleteReply(ctx context.Context, actorID, id string) (Reply, error) {
	var deleted Reply
	err := e.store.Update(ctx, func(tx Tx) error {
		reply, err := tx.GetReply(ctx, id)
		if err != nil {
			return fmt.Errorf("reply %s: %w", id, err)
		}
		comment, chain, err := e.commentContext(ctx, tx, reply.CommentID)
		if err != nil {
			return err
		}
		if !CanDeleteReply(actorID, reply, comment) {
			if !CanSeeReply(actorID, reply, comment, chain) {
				return fmt.Errorf("reply %s: %w", id, ErrNotFound)
			}
			return fmt.Errorf("reply %s: %w", id, ErrForbidden)
		}
		if err := tx.DeleteReply(ctx, reply.ID); err != nil {
			return fmt.Errorf("delete reply: %w", err)
		}
		deleted = reply
		return nil
	})
	if err != nil {
		return Reply{}, err
	}
	return deleted, nil
}

func (e *Engine) GetReply(ctx context.Context, viewerID, id string) (Reply, error) {
	var reply Reply
	err := e.store.View(ctx, func(tx Tx) error {
		found, err := tx.GetReply(ctx, id)
		if err != nil {
			return fmt.Errorf("reply %s: %w", id, err)
		}
		comment, chain, err := e.commentContext(ctx, tx, found.CommentID)
		if err != nil {
			return err
		}
		if !CanSeeReply(viewerID, found, comment, chain) {
			return fmt.Errorf("reply %s: %w", id, ErrNotFound)
		}
		reply = found
		return nil
	})
	if err != nil {
		return Reply{}, err
	}
	return reply, nil
}

// ListReplies returns the visible replies of a visible comment in creation
// order.
func (e *Engine) ListReplies(ctx context.Context, viewerID, commentID string) ([]Reply, error) {
	items := make([]Reply, 0)
	err := e.store.View(ctx, func(tx Tx) error {
		comment, chain, err := e.visibleComment(ctx, tx, viewerID, commentID)
		if err != nil {
			return err
		}
		replies, err := tx.ListReplies(ctx, comment.ID)
		if err != nil {
			return fmt.Errorf("list replies: %w", err)
		}
		for _, reply := range replies {
			if CanSeeReply(viewerID, reply, comment, chain) {
				items = append(items, reply)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// commentContext loads a comment together with its card's chain without any
// visibility check.
func (e *Engine) commentContext(ctx context.Context, tx Tx, commentID string) (Comment, Chain, error) {
	comment, err := tx.GetComment(ctx, commentID)
	if err != nil {
		return Comment{}, nil, fmt.Errorf("comment %s: %w", commentID, err)
	}
	card, err := tx.GetNode(ctx, comment.CardID)
	if err != nil {
		return Comment{}, nil, fmt.Errorf("card %s: %w", comment.CardID, err)
	}
	chain, err := LoadChain(ctx, tx, card, e.maxDepth)
	if err != nil {
		return Comment{}, nil, err
	}
	return comment, chain, nil
}

func (e *Engine) visibleComment(ctx context.Context, tx Tx, viewerID, id string) (Comment, Chain, error) {
	comment, chain, err := e.commentContext(ctx, tx, id)
	if err != nil {
		return Comment{}, nil, err
	}
	if !CanSeeComment(viewerID, comment, chain) {
		return Comment{}, nil, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	return comment, chain, nil
}

func (e *Engine) editableComment(ctx context.Context, tx Tx, actorID, id string) (Comment, error) {
	comment, chain, err := e.commentContext(ctx, tx, id)
	if err != nil {
		return Comment{}, err
	}
	if CanEditComment(actorID, comment) {
		return comment, nil
	}
	if !CanSeeComment(actorID, comment, chain) {
		return Comment{}, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	return Comment{}, fmt.Errorf("comment %s: %w", id, ErrForbidden)
}

func normalizeContent(content, visibility string) (string, Visibility, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", "", fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	if visibility == "" {
		return content, VisibilityPublic, nil
	}
	parsed, err := ParseVisibility(visibility)
	if err != nil {
		return "", "", err
	}
	return content, parsed, nil
}
