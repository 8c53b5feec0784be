package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/windorg/woc-sub000/internal/cards"
	"github.com/windorg/woc-sub000/internal/util"
)

var (
	bucketNodes          = []byte("nodes")
	bucketChildren       = []byte("children")
	bucketBoards         = []byte("boards")
	bucketComments       = []byte("comments")
	bucketCardComments   = []byte("card_comments")
	bucketReplies        = []byte("replies")
	bucketCommentReplies = []byte("comment_replies")
	bucketUsers          = []byte("users")
	bucketUsersByName    = []byte("users_by_name")
)

// Index keys join an owner ID and a member ID with this separator so a
// prefix scan lists members in ID order.
const keySep = "\x00"

// BoltStore keeps everything in one bbolt file. bbolt admits a single writer
// at a time, which makes every Update serializable.
type BoltStore struct {
	db   *bolt.DB
	path string
}

func OpenBolt(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create bolt directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	store := &BoltStore{db: db, path: path}
	if err := store.initializeBuckets(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize buckets: %w", err)
	}
	return store, nil
}

func (s *BoltStore) initializeBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketNodes, bucketChildren, bucketBoards,
			bucketComments, bucketCardComments,
			bucketReplies, bucketCommentReplies,
			bucketUsers, bucketUsersByName,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) Path() string {
	return s.path
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketNodes) == nil {
			return fmt.Errorf("nodes bucket missing")
		}
		return nil
	})
}

func (s *BoltStore) Update(ctx context.Context, fn func(cards.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

func (s *BoltStore) View(ctx context.Context, fn func(cards.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

func (s *BoltStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return User{}, fmt.Errorf("%w: name is required", cards.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	var user User
	err := s.db.Update(func(tx *bolt.Tx) error {
		byName := tx.Bucket(bucketUsersByName)
		if id := byName.Get([]byte(name)); id != nil {
			return getJSON(tx.Bucket(bucketUsers), string(id), &user)
		}
		user = User{
			ID:          util.NewID("usr"),
			DisplayName: name,
			CreatedAt:   time.Now().UTC(),
		}
		if err := putJSON(tx.Bucket(bucketUsers), user.ID, user); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		return byName.Put([]byte(name), []byte(user.ID))
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *BoltStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	var user User
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketUsers), userID, &user)
	})
	if err != nil {
		return User{}, fmt.Errorf("user %s: %w", userID, err)
	}
	return user, nil
}

type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) GetNode(_ context.Context, id string) (cards.Node, error) {
	var node cards.Node
	if err := getJSON(t.tx.Bucket(bucketNodes), id, &node); err != nil {
		return cards.Node{}, err
	}
	if node.ChildrenOrder == nil {
		node.ChildrenOrder = cards.Order{}
	}
	return node, nil
}

func (t *boltTx) ListChildIDs(_ context.Context, parentID string) ([]string, error) {
	return scanIndex(t.tx.Bucket(bucketChildren), parentID), nil
}

func (t *boltTx) ListBoards(ctx context.Context, ownerID string) ([]cards.Node, error) {
	ids := scanIndex(t.tx.Bucket(bucketBoards), ownerID)
	items := make([]cards.Node, 0, len(ids))
	for _, id := range ids {
		node, err := t.GetNode(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get board %s: %w", id, err)
		}
		items = append(items, node)
	}
	return items, nil
}

func (t *boltTx) InsertNode(_ context.Context, node cards.Node) error {
	nodes := t.tx.Bucket(bucketNodes)
	if nodes.Get([]byte(node.ID)) != nil {
		return fmt.Errorf("card %s already exists", node.ID)
	}
	if err := putJSON(nodes, node.ID, node); err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return t.indexNode(node)
}

func (t *boltTx) UpdateNode(ctx context.Context, node cards.Node) error {
	existing, err := t.GetNode(ctx, node.ID)
	if err != nil {
		return err
	}
	if existing.ParentID != node.ParentID {
		if err := t.unindexNode(existing); err != nil {
			return err
		}
		if err := t.indexNode(node); err != nil {
			return err
		}
	}
	if err := putJSON(t.tx.Bucket(bucketNodes), node.ID, node); err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	return nil
}

func (t *boltTx) DeleteNode(ctx context.Context, id string) error {
	node, err := t.GetNode(ctx, id)
	if err != nil {
		return err
	}
	for _, commentID := range scanIndex(t.tx.Bucket(bucketCardComments), id) {
		if err := t.DeleteComment(ctx, commentID); err != nil {
			return err
		}
	}
	if err := t.unindexNode(node); err != nil {
		return err
	}
	return t.tx.Bucket(bucketNodes).Delete([]byte(id))
}

func (t *boltTx) indexNode(node cards.Node) error {
	if node.ParentID == "" {
		return t.tx.Bucket(bucketBoards).Put(indexKey(node.OwnerID, node.ID), []byte{})
	}
	return t.tx.Bucket(bucketChildren).Put(indexKey(node.ParentID, node.ID), []byte{})
}

func (t *boltTx) unindexNode(node cards.Node) error {
	if node.ParentID == "" {
		return t.tx.Bucket(bucketBoards).Delete(indexKey(node.OwnerID, node.ID))
	}
	return t.tx.Bucket(bucketChildren).Delete(indexKey(node.ParentID, node.ID))
}

func (t *boltTx) GetComment(_ context.Context, id string) (cards.Comment, error) {
	var comment cards.Comment
	if err := getJSON(t.tx.Bucket(bucketComments), id, &comment); err != nil {
		return cards.Comment{}, err
	}
	return comment, nil
}

func (t *boltTx) ListComments(ctx context.Context, cardID string) ([]cards.Comment, error) {
	ids := scanIndex(t.tx.Bucket(bucketCardComments), cardID)
	items := make([]cards.Comment, 0, len(ids))
	for _, id := range ids {
		comment, err := t.GetComment(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get comment %s: %w", id, err)
		}
		items = append(items, comment)
	}
	return items, nil
}

func (t *boltTx) InsertComment(_ context.Context, comment cards.Comment) error {
	if err := putJSON(t.tx.Bucket(bucketComments), comment.ID, comment); err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return t.tx.Bucket(bucketCardComments).Put(indexKey(comment.CardID, comment.ID), []byte{})
}

func (t *boltTx) UpdateComment(ctx context.Context, comment cards.Comment) error {
	if _, err := t.GetComment(ctx, comment.ID); err != nil {
		return err
	}
	if err := putJSON(t.tx.Bucket(bucketComments), comment.ID, comment); err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	return nil
}

func (t *boltTx) DeleteComment(ctx context.Context, id string) error {
	comment, err := t.GetComment(ctx, id)
	if err != nil {
		return err
	}
	for _, replyID := range scanIndex(t.tx.Bucket(bucketCommentReplies), id) {
		if err := t.DeleteReply(ctx, replyID); err != nil {
			return err
		}
	}
	if err := t.tx.Bucket(bucketCardComments).Delete(indexKey(comment.CardID, id)); err != nil {
		return err
	}
	return t.tx.Bucket(bucketComments).Delete([]byte(id))
}

func (t *boltTx) GetReply(_ context.Context, id string) (cards.Reply, error) {
	var reply cards.Reply
	if err := getJSON(t.tx.Bucket(bucketReplies), id, &reply); err != nil {
		return cards.Reply{}, err
	}
	return reply, nil
}

func (t *boltTx) ListReplies(ctx context.Context, commentID string) ([]cards.Reply, error) {
	ids := scanIndex(t.tx.Bucket(bucketCommentReplies), commentID)
	items := make([]cards.Reply, 0, len(ids))
	for _, id := range ids {
		reply, err := t.GetReply(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get reply %s: %w", id, err)
		}
		items = append(items, reply)
	}
	return items, nil
}

func (t *boltTx) InsertReply(_ context.Context, reply cards.Reply) error {
	if err := putJSON(t.tx.Bucket(bucketReplies), reply.ID, reply); err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}
	return t.tx.Bucket(bucketCommentReplies).Put(indexKey(reply.CommentID, reply.ID), []byte{})
}

func (t *boltTx) DeleteReply(ctx context.Context, id string) error {
	reply, err := t.GetReply(ctx, id)
	if err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketCommentReplies).Delete(indexKey(reply.CommentID, id)); err != nil {
		return err
	}
	return t.tx.Bucket(bucketReplies).Delete([]byte(id))
}

func indexKey(owner, member string) []byte {
	return []byte(owner + keySep + member)
}

// scanIndex returns the member IDs stored under owner. The result is copied
// out of bbolt's memory map and stays valid after the transaction ends.
func scanIndex(bucket *bolt.Bucket, owner string) []string {
	prefix := []byte(owner + keySep)
	ids := make([]string, 0)
	c := bucket.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		ids = append(ids, string(k[len(prefix):]))
	}
	return ids
}

func getJSON(bucket *bolt.Bucket, id string, dest any) error {
	data := bucket.Get([]byte(id))
	if data == nil {
		return cards.ErrNotFound
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode %s: %w", id, err)
	}
	return nil
}

func putJSON(bucket *bolt.Bucket, id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", id, err)
	}
	return bucket.Put([]byte(id), data)
}
