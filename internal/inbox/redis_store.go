// Package inbox keeps per-comment subscriber sets and per-user notification
// inboxes in Redis.
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	KindReply = "reply"

	defaultPrefix = "woc:"
	defaultLimit  = 200
)

// Notification is one inbox entry. It only references content; readers
// re-check visibility before showing it.
type Notification struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	ActorID   string    `json:"actorId"`
	CardID    string    `json:"cardId"`
	CommentID string    `json:"commentId"`
	ReplyID   string    `json:"replyId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type RedisStore struct {
	client *redis.Client
	prefix string
	limit  int
}

// NewRedisStore connects to redisURL and keeps at most limit entries per
// inbox.
func NewRedisStore(redisURL string, limit int) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, limit), nil
}

func NewRedisStoreWithClient(client *redis.Client, limit int) *RedisStore {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &RedisStore{
		client: client,
		prefix: defaultPrefix,
		limit:  limit,
	}
}

func (s *RedisStore) subscribersKey(commentID string) string {
	return s.prefix + "subs:" + commentID
}

func (s *RedisStore) inboxKey(userID string) string {
	return s.prefix + "inbox:" + userID
}

func (s *RedisStore) Subscribe(ctx context.Context, commentID, userID string) error {
	if err := s.client.SAdd(ctx, s.subscribersKey(commentID), userID).Err(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (s *RedisStore) Unsubscribe(ctx context.Context, commentID, userID string) error {
	if err := s.client.SRem(ctx, s.subscribersKey(commentID), userID).Err(); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

// Subscribers returns the subscriber IDs of a comment in sorted order.
func (s *RedisStore) Subscribers(ctx context.Context, commentID string) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.subscribersKey(commentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	sort.Strings(members)
	return members, nil
}

func (s *RedisStore) IsSubscribed(ctx context.Context, commentID, userID string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.subscribersKey(commentID), userID).Result()
	if err != nil {
		return false, fmt.Errorf("check subscription: %w", err)
	}
	return ok, nil
}

// ForgetComment drops the subscriber set of a deleted comment.
func (s *RedisStore) ForgetComment(ctx context.Context, commentID string) error {
	if err := s.client.Del(ctx, s.subscribersKey(commentID)).Err(); err != nil {
		return fmt.Errorf("forget comment: %w", err)
	}
	return nil
}

// FanOut pushes n onto the inbox of every subscriber of n.CommentID except
// exclude and returns the number of recipients.
func (s *RedisStore) FanOut(ctx context.Context, n Notification, exclude string) (int, error) {
	subscribers, err := s.Subscribers(ctx, n.CommentID)
	if err != nil {
		return 0, err
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return 0, fmt.Errorf("marshal notification: %w", err)
	}

	pipe := s.client.TxPipeline()
	recipients := 0
	for _, userID := range subscribers {
		if userID == exclude {
			continue
		}
		key := s.inboxKey(userID)
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, int64(s.limit-1))
		recipients++
	}
	if recipients == 0 {
		return 0, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("fan out notification: %w", err)
	}
	return recipients, nil
}

// Inbox returns up to limit notifications for userID, newest first.
func (s *RedisStore) Inbox(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}
	raw, err := s.client.LRange(ctx, s.inboxKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	items := make([]Notification, 0, len(raw))
	for _, entry := range raw {
		var n Notification
		if err := json.Unmarshal([]byte(entry), &n); err != nil {
			return nil, fmt.Errorf("unmarshal notification: %w", err)
		}
		items = append(items, n)
	}
	return items, nil
}

// Dismiss removes one notification from userID's inbox. It reports whether
// anything was removed.
func (s *RedisStore) Dismiss(ctx context.Context, userID, notificationID string) (bool, error) {
	key := s.inboxKey(userID)
	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return false, fmt.Errorf("read inbox: %w", err)
	}
	for _, entry := range raw {
		var n Notification
		if err := json.Unmarshal([]byte(entry), &n); err != nil {
			continue
		}
		if n.ID != notificationID {
			continue
		}
		removed, err := s.client.LRem(ctx, key, 1, entry).Result()
		if err != nil {
			return false, fmt.Errorf("dismiss notification: %w", err)
		}
		return removed > 0, nil
	}
	return false, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
