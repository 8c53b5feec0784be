package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	mu        sync.Mutex
	healthy   bool
	results   []Result
	err       error
	cards     []CardRecord
	comments  []CommentRecord
	deleted   []string
	lastQuery Query
}

func (f *fakeIndex) Search(_ context.Context, q Query) ([]Result, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	return f.results, len(f.results), f.err
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) IndexCards(cards []CardRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cards = append(f.cards, cards...)
	return nil
}

func (f *fakeIndex) IndexComments(comments []CommentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, comments...)
	return nil
}

func (f *fakeIndex) DeleteCards(ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
	return nil
}

func (f *fakeIndex) DeleteComments(ids []string) error {
	return f.DeleteCards(ids)
}

func TestServiceUsesHealthyIndex(t *testing.T) {
	index := &fakeIndex{healthy: true, results: []Result{{Type: ResultCard, ID: "card_1"}}}
	fallback := &fakeIndex{healthy: true, results: []Result{{Type: ResultCard, ID: "card_2"}}}
	svc := NewService(index, fallback, zerolog.Nop())

	resp := svc.Search(context.Background(), Query{Text: "hello", FilterOwnerID: "usr_1"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "card_1", resp.Results[0].ID)
	assert.Equal(t, "hello", resp.Query)
	assert.Equal(t, "usr_1", index.lastQuery.FilterOwnerID)
}

func TestServiceFallsBack(t *testing.T) {
	fallback := &fakeIndex{healthy: true, results: []Result{{Type: ResultComment, ID: "cmt_1"}}}

	unhealthy := NewService(&fakeIndex{healthy: false}, fallback, zerolog.Nop())
	resp := unhealthy.Search(context.Background(), Query{Text: "x"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "cmt_1", resp.Results[0].ID)

	failing := NewService(&fakeIndex{healthy: true, err: errors.New("down")}, fallback, zerolog.Nop())
	resp = failing.Search(context.Background(), Query{Text: "x"})
	require.Len(t, resp.Results, 1)

	none := NewService(nil, nil, zerolog.Nop())
	assert.False(t, none.Enabled())
	resp = none.Search(context.Background(), Query{Text: "x"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestServiceIndexesInBackground(t *testing.T) {
	index := &fakeIndex{healthy: true}
	svc := NewService(index, nil, zerolog.Nop())

	svc.IndexCard(CardRecord{ID: "card_1", Title: "a"})
	svc.IndexComment(CommentRecord{ID: "cmt_1", Content: "b"})
	svc.DeleteCards([]string{"card_9", "card_8"})
	svc.DeleteComments(nil)
	svc.Wait()

	assert.Len(t, index.cards, 1)
	assert.Len(t, index.comments, 1)
	assert.ElementsMatch(t, []string{"card_9", "card_8"}, index.deleted)
}

func TestServiceSkipsUnhealthyIndexWrites(t *testing.T) {
	index := &fakeIndex{healthy: false}
	svc := NewService(index, nil, zerolog.Nop())
	svc.IndexCard(CardRecord{ID: "card_1"})
	svc.Wait()
	assert.Empty(t, index.cards)
}

func TestHitToResult(t *testing.T) {
	raw := func(v any) json.RawMessage {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		return data
	}

	card := meili.Hit{
		"id":         raw("card_1"),
		"title":      raw("Groceries"),
		"ownerId":    raw("usr_1"),
		"_formatted": raw(map[string]any{"title": "<mark>Groceries</mark>"}),
	}
	got := hitToResult(card, ResultCard)
	assert.Equal(t, "card_1", got.ID)
	assert.Equal(t, "card_1", got.CardID)
	assert.Equal(t, "<mark>Groceries</mark>", got.Title)
	assert.Equal(t, "usr_1", got.OwnerID)

	comment := meili.Hit{
		"id":      raw("cmt_1"),
		"content": raw("buy milk"),
		"cardId":  raw("card_1"),
	}
	got = hitToResult(comment, ResultComment)
	assert.Equal(t, "buy milk", got.Snippet)
	assert.Equal(t, "card_1", got.CardID)
	assert.Equal(t, ResultComment, indexToResultType(idxComments))
}
