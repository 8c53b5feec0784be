package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windorg/woc-sub000/internal/cards"
	"github.com/windorg/woc-sub000/internal/util"
)

type contractStore interface {
	cards.Transactor
	EnsureUserByName(ctx context.Context, name string) (User, error)
}

func newTestNode(ownerID, parentID, title string) cards.Node {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return cards.Node{
		ID:            util.NewID("card"),
		OwnerID:       ownerID,
		ParentID:      parentID,
		Title:         title,
		ChildrenOrder: cards.Order{},
		Settings:      cards.DefaultSettings(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// runTransactorContract checks the behaviour every cards.Transactor must
// share, independent of the backing storage.
func runTransactorContract(t *testing.T, s contractStore) {
	ctx := context.Background()
	owner, err := s.EnsureUserByName(ctx, "contract-"+util.NewID(""))
	require.NoError(t, err)

	board := newTestNode(owner.ID, "", "board")
	other := newTestNode(owner.ID, "", "other board")
	child := newTestNode(owner.ID, board.ID, "child")
	board.ChildrenOrder = cards.Order{child.ID}

	require.NoError(t, s.Update(ctx, func(tx cards.Tx) error {
		for _, node := range []cards.Node{board, other, child} {
			if err := tx.InsertNode(ctx, node); err != nil {
				return err
			}
		}
		return nil
	}))

	t.Run("reads back nodes and indexes", func(t *testing.T) {
		require.NoError(t, s.View(ctx, func(tx cards.Tx) error {
			got, err := tx.GetNode(ctx, board.ID)
			require.NoError(t, err)
			assert.Equal(t, cards.Order{child.ID}, got.ChildrenOrder)
			assert.Equal(t, cards.VisibilityPublic, got.Settings.Visibility)
			assert.True(t, got.IsBoard())

			ids, err := tx.ListChildIDs(ctx, board.ID)
			require.NoError(t, err)
			assert.Equal(t, []string{child.ID}, ids)

			boards, err := tx.ListBoards(ctx, owner.ID)
			require.NoError(t, err)
			require.Len(t, boards, 2)
			assert.Equal(t, board.ID, boards[0].ID)
			assert.Equal(t, other.ID, boards[1].ID)
			return nil
		}))
	})

	t.Run("missing node is ErrNotFound", func(t *testing.T) {
		err := s.View(ctx, func(tx cards.Tx) error {
			_, err := tx.GetNode(ctx, "card_missing")
			return err
		})
		assert.ErrorIs(t, err, cards.ErrNotFound)
	})

	t.Run("error from fn rolls back", func(t *testing.T) {
		ghost := newTestNode(owner.ID, "", "ghost")
		boom := errors.New("boom")
		err := s.Update(ctx, func(tx cards.Tx) error {
			if err := tx.InsertNode(ctx, ghost); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		err = s.View(ctx, func(tx cards.Tx) error {
			_, err := tx.GetNode(ctx, ghost.ID)
			return err
		})
		assert.ErrorIs(t, err, cards.ErrNotFound)
	})

	t.Run("changing parent moves the child index", func(t *testing.T) {
		require.NoError(t, s.Update(ctx, func(tx cards.Tx) error {
			moved := child
			moved.ParentID = other.ID
			return tx.UpdateNode(ctx, moved)
		}))
		require.NoError(t, s.View(ctx, func(tx cards.Tx) error {
			ids, err := tx.ListChildIDs(ctx, board.ID)
			require.NoError(t, err)
			assert.Empty(t, ids)
			ids, err = tx.ListChildIDs(ctx, other.ID)
			require.NoError(t, err)
			assert.Equal(t, []string{child.ID}, ids)
			return nil
		}))
	})

	t.Run("deleting a node removes its comments and replies", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Microsecond)
		comment := cards.Comment{
			ID: util.NewID("cmt"), CardID: child.ID, OwnerID: owner.ID,
			Content: "hello", Visibility: cards.VisibilityPublic, CreatedAt: now, UpdatedAt: now,
		}
		reply := cards.Reply{
			ID: util.NewID("rep"), CommentID: comment.ID, AuthorID: owner.ID,
			Content: "hi", Visibility: cards.VisibilityPublic, CreatedAt: now,
		}
		require.NoError(t, s.Update(ctx, func(tx cards.Tx) error {
			if err := tx.InsertComment(ctx, comment); err != nil {
				return err
			}
			return tx.InsertReply(ctx, reply)
		}))

		require.NoError(t, s.View(ctx, func(tx cards.Tx) error {
			comments, err := tx.ListComments(ctx, child.ID)
			require.NoError(t, err)
			require.Len(t, comments, 1)
			assert.Equal(t, "hello", comments[0].Content)
			replies, err := tx.ListReplies(ctx, comment.ID)
			require.NoError(t, err)
			require.Len(t, replies, 1)
			assert.Equal(t, owner.ID, replies[0].AuthorID)
			return nil
		}))

		require.NoError(t, s.Update(ctx, func(tx cards.Tx) error {
			return tx.DeleteNode(ctx, child.ID)
		}))

		err := s.View(ctx, func(tx cards.Tx) error {
			_, err := tx.GetComment(ctx, comment.ID)
			return err
		})
		assert.ErrorIs(t, err, cards.ErrNotFound)
		err = s.View(ctx, func(tx cards.Tx) error {
			_, err := tx.GetReply(ctx, reply.ID)
			return err
		})
		assert.ErrorIs(t, err, cards.ErrNotFound)
	})
}
