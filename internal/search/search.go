// Package search indexes cards and comments for full-text lookup. Hits carry
// no visibility guarantees; callers re-check every hit before returning it.
package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultCard    ResultType = "card"
	ResultComment ResultType = "comment"
)

// Result is a single search hit.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	CardID  string     `json:"cardId"`
	OwnerID string     `json:"ownerId"`
}

// Query describes a search request.
type Query struct {
	Text          string
	FilterType    ResultType // empty = all types
	FilterOwnerID string
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Index is a searchable store that also accepts writes.
type Index interface {
	Searcher
	IndexCards(cards []CardRecord) error
	IndexComments(comments []CommentRecord) error
	DeleteCards(ids []string) error
	DeleteComments(ids []string) error
}

// CardRecord is the data we index for a card.
type CardRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	OwnerID  string `json:"ownerId"`
	ParentID string `json:"parentId"`
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	CardID  string `json:"cardId"`
	OwnerID string `json:"ownerId"`
}
