package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windorg/woc-sub000/internal/auth"
	"github.com/windorg/woc-sub000/internal/cards"
	"github.com/windorg/woc-sub000/internal/config"
	"github.com/windorg/woc-sub000/internal/inbox"
	"github.com/windorg/woc-sub000/internal/search"
	"github.com/windorg/woc-sub000/internal/store"
)

type recordingIndex struct {
	mu      sync.Mutex
	results []search.Result
	cards   []search.CardRecord
	deleted []string
	// deletedComments records comment IDs removed from the index.
	deletedComments []string
}

func (f *recordingIndex) Search(context.Context, search.Query) ([]search.Result, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results, len(f.results) + 5, nil
}

func (f *recordingIndex) Healthy() bool { return true }

func (f *recordingIndex) IndexCards(records []search.CardRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cards = append(f.cards, records...)
	return nil
}

func (f *recordingIndex) IndexComments([]search.CommentRecord) error { return nil }

func (f *recordingIndex) DeleteCards(ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
	return nil
}

func (f *recordingIndex) DeleteComments(ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedComments = append(f.deletedComments, ids...)
	return nil
}

type testEnv struct {
	ctx   context.Context
	svc   *Service
	index *recordingIndex
	redis *miniredis.Miniredis
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		CORSOrigin: "*",
		TxRetries:  3,
		InboxLimit: 50,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.OpenBolt(filepath.Join(t.TempDir(), "woc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mr := miniredis.RunT(t)
	notifier := inbox.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 50)
	t.Cleanup(func() { _ = notifier.Close() })

	index := &recordingIndex{}
	searchService := search.NewService(index, nil, zerolog.Nop())
	svc := New(testConfig(), cards.NewEngine(st), st, searchService, notifier, zerolog.Nop())
	return &testEnv{ctx: context.Background(), svc: svc, index: index, redis: mr}
}

func (e *testEnv) login(t *testing.T, name string) Session {
	t.Helper()
	session, err := e.svc.Login(e.ctx, name)
	require.NoError(t, err)
	return session
}

func TestLoginAndSessionFromToken(t *testing.T) {
	env := newTestEnv(t)

	first := env.login(t, "  alice ")
	again := env.login(t, "alice")
	assert.Equal(t, first.UserID, again.UserID)
	assert.Equal(t, "alice", first.UserName)
	assert.NotEqual(t, first.JTI, again.JTI)

	session, err := env.svc.SessionFromToken(env.ctx, first.Token)
	require.NoError(t, err)
	assert.Equal(t, first.UserID, session.UserID)
	assert.Equal(t, first.JTI, session.JTI)

	_, err = env.svc.SessionFromToken(env.ctx, "garbage")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestSessionFromTokenRejectsUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  "usr_missing",
		Name: "ghost",
		JTI:  "j",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	_, err = env.svc.SessionFromToken(env.ctx, token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestWithRetry(t *testing.T) {
	svc := &Service{cfg: config.Config{TxRetries: 2}, log: zerolog.Nop()}
	ctx := context.Background()

	calls := 0
	got, err := withRetry(ctx, svc, "op", func() (int, error) {
		calls++
		if calls < 3 {
			return 0, cards.ErrConflict
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = withRetry(ctx, svc, "op", func() (int, error) {
		calls++
		return 0, cards.ErrConflict
	})
	assert.ErrorIs(t, err, cards.ErrConflict)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = withRetry(ctx, svc, "op", func() (int, error) {
		calls++
		return 0, cards.ErrNotFound
	})
	assert.ErrorIs(t, err, cards.ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestCardMutationsUpdateIndex(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")

	board, err := env.svc.CreateCard(env.ctx, alice.UserID, CreateCardInput{Title: "Board"})
	require.NoError(t, err)
	child, err := env.svc.CreateCard(env.ctx, alice.UserID, CreateCardInput{ParentID: board.ID, Title: "Child"})
	require.NoError(t, err)

	_, err = env.svc.MoveCard(env.ctx, alice.UserID, child.ID, "")
	require.NoError(t, err)
	_, err = env.svc.DeleteCard(env.ctx, alice.UserID, board.ID)
	require.NoError(t, err)
	env.svc.search.Wait()

	env.index.mu.Lock()
	defer env.index.mu.Unlock()
	require.Len(t, env.index.cards, 3)
	assert.Equal(t, "", env.index.cards[2].ParentID)
	assert.Equal(t, []string{board.ID}, env.index.deleted)
}

func TestReplyNotificationsRespectVisibility(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")
	carol := env.login(t, "carol")

	board, err := env.svc.CreateCard(env.ctx, alice.UserID, CreateCardInput{Title: "Board"})
	require.NoError(t, err)
	comment, err := env.svc.CreateComment(env.ctx, alice.UserID, board.ID, cards.CommentInput{Content: "hello"})
	require.NoError(t, err)

	_, err = env.svc.CreateReply(env.ctx, bob.UserID, comment.ID, cards.ReplyInput{Content: "hi from bob"})
	require.NoError(t, err)
	carolReply, err := env.svc.CreateReply(env.ctx, carol.UserID, comment.ID, cards.ReplyInput{Content: "hi from carol"})
	require.NoError(t, err)

	aliceInbox, err := env.svc.Inbox(env.ctx, alice.UserID)
	require.NoError(t, err)
	assert.Len(t, aliceInbox, 2)

	bobInbox, err := env.svc.Inbox(env.ctx, bob.UserID)
	require.NoError(t, err)
	require.Len(t, bobInbox, 1)
	assert.Equal(t, carolReply.ID, bobInbox[0].Reply.ID)
	assert.Equal(t, board.ID, bobInbox[0].CardID)

	carolInbox, err := env.svc.Inbox(env.ctx, carol.UserID)
	require.NoError(t, err)
	assert.Empty(t, carolInbox)

	private := string(cards.VisibilityPrivate)
	_, err = env.svc.UpdateComment(env.ctx, alice.UserID, comment.ID, cards.CommentPatch{Visibility: &private})
	require.NoError(t, err)

	bobInbox, err = env.svc.Inbox(env.ctx, bob.UserID)
	require.NoError(t, err)
	assert.Empty(t, bobInbox)

	aliceInbox, err = env.svc.Inbox(env.ctx, alice.UserID)
	require.NoError(t, err)
	require.Len(t, aliceInbox, 2)

	require.NoError(t, env.svc.DismissNotification(env.ctx, alice.UserID, aliceInbox[0].ID))
	assert.ErrorIs(t, env.svc.DismissNotification(env.ctx, alice.UserID, aliceInbox[0].ID), cards.ErrNotFound)

	_, err = env.svc.DeleteComment(env.ctx, alice.UserID, comment.ID)
	require.NoError(t, err)
	assert.False(t, env.redis.Exists("woc:subs:"+comment.ID))
}

func TestDeleteCardForgetsCascadedComments(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")

	board, err := env.svc.CreateCard(env.ctx, alice.UserID, CreateCardInput{Title: "Board"})
	require.NoError(t, err)
	child, err := env.svc.CreateCard(env.ctx, alice.UserID, CreateCardInput{ParentID: board.ID, Title: "Child"})
	require.NoError(t, err)
	comment, err := env.svc.CreateComment(env.ctx, alice.UserID, child.ID, cards.CommentInput{Content: "deep note"})
	require.NoError(t, err)
	_, err = env.svc.CreateReply(env.ctx, bob.UserID, comment.ID, cards.ReplyInput{Content: "reply"})
	require.NoError(t, err)
	require.True(t, env.redis.Exists("woc:subs:"+comment.ID))

	result, err := env.svc.DeleteCard(env.ctx, alice.UserID, board.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{comment.ID}, result.DeletedComments)
	assert.False(t, env.redis.Exists("woc:subs:"+comment.ID))

	env.svc.search.Wait()
	env.index.mu.Lock()
	defer env.index.mu.Unlock()
	assert.Equal(t, []string{comment.ID}, env.index.deletedComments)
	assert.ElementsMatch(t, []string{board.ID, child.ID}, env.index.deleted)
}

func TestSubscriptionFollowAndLeave(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")
	carol := env.login(t, "carol")

	board, err := env.svc.CreateCard(env.ctx, alice.UserID, CreateCardInput{Title: "Board"})
	require.NoError(t, err)
	comment, err := env.svc.CreateComment(env.ctx, alice.UserID, board.ID, cards.CommentInput{Content: "hello"})
	require.NoError(t, err)

	following, err := env.svc.Subscription(env.ctx, alice.UserID, comment.ID)
	require.NoError(t, err)
	assert.True(t, following)

	following, err = env.svc.Subscription(env.ctx, bob.UserID, comment.ID)
	require.NoError(t, err)
	assert.False(t, following)

	following, err = env.svc.SetSubscription(env.ctx, bob.UserID, comment.ID, true)
	require.NoError(t, err)
	assert.True(t, following)

	following, err = env.svc.SetSubscription(env.ctx, alice.UserID, comment.ID, false)
	require.NoError(t, err)
	assert.False(t, following)

	_, err = env.svc.CreateReply(env.ctx, carol.UserID, comment.ID, cards.ReplyInput{Content: "ping"})
	require.NoError(t, err)
	aliceInbox, err := env.svc.Inbox(env.ctx, alice.UserID)
	require.NoError(t, err)
	assert.Empty(t, aliceInbox)
	bobInbox, err := env.svc.Inbox(env.ctx, bob.UserID)
	require.NoError(t, err)
	assert.Len(t, bobInbox, 1)

	private := string(cards.VisibilityPrivate)
	_, err = env.svc.UpdateComment(env.ctx, alice.UserID, comment.ID, cards.CommentPatch{Visibility: &private})
	require.NoError(t, err)
	_, err = env.svc.SetSubscription(env.ctx, bob.UserID, comment.ID, true)
	assert.ErrorIs(t, err, cards.ErrNotFound)
	_, err = env.svc.Subscription(env.ctx, bob.UserID, comment.ID)
	assert.ErrorIs(t, err, cards.ErrNotFound)
}

func TestInboxWithoutNotifier(t *testing.T) {
	st, err := store.OpenBolt(filepath.Join(t.TempDir(), "woc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	svc := New(testConfig(), cards.NewEngine(st), st, nil, nil, zerolog.Nop())

	items, err := svc.Inbox(context.Background(), "usr_1")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.ErrorIs(t, svc.DismissNotification(context.Background(), "usr_1", "ntf_1"), cards.ErrNotFound)

	board, err := svc.CreateCard(context.Background(), "usr_1", CreateCardInput{Title: "Board"})
	require.NoError(t, err)
	comment, err := svc.CreateComment(context.Background(), "usr_1", board.ID, cards.CommentInput{Content: "note"})
	require.NoError(t, err)
	following, err := svc.Subscription(context.Background(), "usr_1", comment.ID)
	require.NoError(t, err)
	assert.False(t, following)
	_, err = svc.SetSubscription(context.Background(), "usr_1", comment.ID, true)
	assert.ErrorIs(t, err, errNotificationsDisabled)
}

func TestSearchDropsInvisibleHits(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")

	public, err := env.svc.CreateCard(env.ctx, alice.UserID, CreateCardInput{Title: "Groceries"})
	require.NoError(t, err)
	private := string(cards.VisibilityPrivate)
	hidden, err := env.svc.CreateCard(env.ctx, alice.UserID, CreateCardInput{
		Title:    "Groceries secret",
		Settings: &cards.SettingsPatch{Visibility: &private},
	})
	require.NoError(t, err)
	env.svc.search.Wait()

	env.index.mu.Lock()
	env.index.results = []search.Result{
		{Type: search.ResultCard, ID: public.ID},
		{Type: search.ResultCard, ID: hidden.ID},
		{Type: search.ResultCard, ID: "card_gone"},
		{Type: search.ResultComment, ID: "cmt_gone"},
	}
	env.index.mu.Unlock()

	resp, err := env.svc.Search(env.ctx, bob.UserID, search.Query{Text: "groceries"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, public.ID, resp.Results[0].ID)
	assert.Equal(t, 6, resp.Total)

	resp, err = env.svc.Search(env.ctx, alice.UserID, search.Query{Text: "groceries"})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)

	resp, err = env.svc.Search(env.ctx, alice.UserID, search.Query{Text: "   "})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestReadyChecks(t *testing.T) {
	env := newTestEnv(t)
	ready, checks := env.svc.ReadyChecks(env.ctx)
	assert.True(t, ready)
	assert.Contains(t, checks, "database")
	assert.Contains(t, checks, "redis")
	assert.Contains(t, checks, "search")

	dead := inbox.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1}), 10)
	t.Cleanup(func() { _ = dead.Close() })
	env.svc.notifier = dead
	ready, checks = env.svc.ReadyChecks(env.ctx)
	assert.True(t, ready)
	redisCheck, ok := checks["redis"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "degraded", redisCheck["status"])
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{cards.ErrNotFound, 404, "NOT_FOUND"},
		{cards.ErrForbidden, 403, "FORBIDDEN"},
		{cards.ErrCycle, 409, "CYCLE_REJECTED"},
		{cards.ErrBadPlacement, 422, "BAD_PLACEMENT"},
		{cards.ErrInvalidInput, 422, "VALIDATION_ERROR"},
		{cards.ErrConflict, 503, "TRANSIENT_CONFLICT"},
		{auth.ErrExpiredToken, 401, "UNAUTHORIZED"},
		{errUnauthorized, 401, "UNAUTHORIZED"},
		{errors.New("boom"), 500, "SERVER_ERROR"},
	}
	for _, tc := range cases {
		status, code, _, _ := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}
