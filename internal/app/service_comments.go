package app

import (
	"context"
	"errors"

	"github.com/windorg/woc-sub000/internal/cards"
	"github.com/windorg/woc-sub000/internal/inbox"
	"github.com/windorg/woc-sub000/internal/search"
	"github.com/windorg/woc-sub000/internal/util"
)

type InboxItem struct {
	inbox.Notification
	Reply cards.Reply `json:"reply"`
}

func (s *Service) ListComments(ctx context.Context, viewerID, cardID string) ([]cards.Comment, error) {
	return withRetry(ctx, s, "list comments", func() ([]cards.Comment, error) {
		return s.engine.ListComments(ctx, viewerID, cardID)
	})
}

func (s *Service) CreateComment(ctx context.Context, actorID, cardID string, input cards.CommentInput) (cards.Comment, error) {
	comment, err := withRetry(ctx, s, "create comment", func() (cards.Comment, error) {
		return s.engine.CreateComment(ctx, actorID, cardID, input)
	})
	if err != nil {
		return cards.Comment{}, err
	}
	s.subscribe(ctx, comment.ID, actorID)
	s.search.IndexComment(commentRecord(comment))
	return comment, nil
}

func (s *Service) UpdateComment(ctx context.Context, actorID, id string, patch cards.CommentPatch) (cards.Comment, error) {
	comment, err := withRetry(ctx, s, "update comment", func() (cards.Comment, error) {
		return s.engine.UpdateComment(ctx, actorID, id, patch)
	})
	if err != nil {
		return cards.Comment{}, err
	}
	s.search.IndexComment(commentRecord(comment))
	return comment, nil
}

func (s *Service) DeleteComment(ctx context.Context, actorID, id string) (cards.Comment, error) {
	comment, err := withRetry(ctx, s, "delete comment", func() (cards.Comment, error) {
		return s.engine.DeleteComment(ctx, actorID, id)
	})
	if err != nil {
		return cards.Comment{}, err
	}
	s.forgetComments(ctx, []string{comment.ID})
	return comment, nil
}

// forgetComments drops the subscriber sets and search documents of deleted
// comments. Failures are logged only.
func (s *Service) forgetComments(ctx context.Context, ids []string) {
	if s.notifier != nil {
		for _, id := range ids {
			if err := s.notifier.ForgetComment(ctx, id); err != nil {
				s.log.Warn().Err(err).Str("comment_id", id).Msg("drop subscribers failed")
			}
		}
	}
	s.search.DeleteComments(ids)
}

func (s *Service) ListReplies(ctx context.Context, viewerID, commentID string) ([]cards.Reply, error) {
	return withRetry(ctx, s, "list replies", func() ([]cards.Reply, error) {
		return s.engine.ListReplies(ctx, viewerID, commentID)
	})
}

// CreateReply stores the reply, subscribes its author to the comment and
// notifies every other subscriber. Notification failures are logged and do
// not fail the request.
func (s *Service) CreateReply(ctx context.Context, actorID, commentID string, input cards.ReplyInput) (cards.Reply, error) {
	result, err := withRetry(ctx, s, "create reply", func() (cards.CreateReplyResult, error) {
		return s.engine.CreateReply(ctx, actorID, commentID, input)
	})
	if err != nil {
		return cards.Reply{}, err
	}
	reply := result.Reply
	s.subscribe(ctx, result.Comment.ID, actorID)

	if s.notifier != nil {
		n := inbox.Notification{
			ID:        util.NewID("ntf"),
			Kind:      inbox.KindReply,
			ActorID:   actorID,
			CardID:    result.Comment.CardID,
			CommentID: result.Comment.ID,
			ReplyID:   reply.ID,
			CreatedAt: reply.CreatedAt,
		}
		recipients, err := s.notifier.FanOut(ctx, n, actorID)
		if err != nil {
			s.log.Warn().Err(err).Str("reply_id", reply.ID).Msg("reply fan-out failed")
		} else {
			s.log.Debug().Str("reply_id", reply.ID).Int("recipients", recipients).Msg("reply fan-out")
		}
	}
	return reply, nil
}

func (s *Service) DeleteReply(ctx context.Context, actorID, id string) (cards.Reply, error) {
	return withRetry(ctx, s, "delete reply", func() (cards.Reply, error) {
		return s.engine.DeleteReply(ctx, actorID, id)
	})
}

// Inbox returns the caller's notifications whose reply is still visible to
// them. Entries for deleted or hidden replies are skipped, not removed.
func (s *Service) Inbox(ctx context.Context, userID string) ([]InboxItem, error) {
	items := make([]InboxItem, 0)
	if s.notifier == nil {
		return items, nil
	}
	notifications, err := s.notifier.Inbox(ctx, userID, s.cfg.InboxLimit)
	if err != nil {
		return nil, err
	}
	for _, n := range notifications {
		reply, err := s.engine.GetReply(ctx, userID, n.ReplyID)
		if errors.Is(err, cards.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, InboxItem{Notification: n, Reply: reply})
	}
	return items, nil
}

func (s *Service) DismissNotification(ctx context.Context, userID, notificationID string) error {
	if s.notifier == nil {
		return cards.ErrNotFound
	}
	removed, err := s.notifier.Dismiss(ctx, userID, notificationID)
	if err != nil {
		return err
	}
	if !removed {
		return cards.ErrNotFound
	}
	return nil
}

// Subscription reports whether userID follows the replies of a comment the
// user can see.
func (s *Service) Subscription(ctx context.Context, userID, commentID string) (bool, error) {
	if _, err := s.engine.GetComment(ctx, userID, commentID); err != nil {
		return false, err
	}
	if s.notifier == nil {
		return false, nil
	}
	return s.notifier.IsSubscribed(ctx, commentID, userID)
}

// SetSubscription follows or leaves the reply thread of a visible comment and
// returns the resulting state.
func (s *Service) SetSubscription(ctx context.Context, userID, commentID string, follow bool) (bool, error) {
	if _, err := s.engine.GetComment(ctx, userID, commentID); err != nil {
		return false, err
	}
	if s.notifier == nil {
		return false, errNotificationsDisabled
	}
	if follow {
		if err := s.notifier.Subscribe(ctx, commentID, userID); err != nil {
			return false, err
		}
	} else if err := s.notifier.Unsubscribe(ctx, commentID, userID); err != nil {
		return false, err
	}
	s.log.Info().Str("comment_id", commentID).Str("user_id", userID).Bool("subscribed", follow).Msg("subscription changed")
	return follow, nil
}

func (s *Service) subscribe(ctx context.Context, commentID, userID string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Subscribe(ctx, commentID, userID); err != nil {
		s.log.Warn().Err(err).Str("comment_id", commentID).Str("user_id", userID).Msg("subscribe failed")
	}
}

func commentRecord(comment cards.Comment) search.CommentRecord {
	return search.CommentRecord{
		ID:      comment.ID,
		Content: comment.Content,
		CardID:  comment.CardID,
		OwnerID: comment.OwnerID,
	}
}
