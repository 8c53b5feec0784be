// Package cards implements the card tree: a single recursive tree of cards
// (top-level cards are boards) with comments and threaded replies.
//
// The package owns the tree's integrity rules. Visibility is inherited from
// every ancestor up to the root, each card keeps an explicit ordered list of
// its children, and re-parenting never introduces a cycle. All structural
// mutations run inside one transaction provided by a Transactor.
package cards

import (
	"fmt"
	"time"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// ParseVisibility accepts the two known values and rejects everything else.
func ParseVisibility(value string) (Visibility, error) {
	switch Visibility(value) {
	case VisibilityPublic, VisibilityPrivate:
		return Visibility(value), nil
	default:
		return "", fmt.Errorf("%w: unknown visibility %q", ErrInvalidInput, value)
	}
}

// Settings is always complete; construct it with DefaultSettings and change it
// through a SettingsPatch.
type Settings struct {
	Visibility   Visibility `json:"visibility"`
	Archived     bool       `json:"archived"`
	ReverseOrder bool       `json:"reverseOrder"`
	// BeeminderGoal is goal-sync configuration carried for clients. The tree
	// never interprets it.
	BeeminderGoal string `json:"beeminderGoal,omitempty"`
}

func DefaultSettings() Settings {
	return Settings{
		Visibility:   VisibilityPublic,
		Archived:     false,
		ReverseOrder: false,
	}
}

type SettingsPatch struct {
	Visibility    *string `json:"visibility,omitempty"`
	Archived      *bool   `json:"archived,omitempty"`
	ReverseOrder  *bool   `json:"reverseOrder,omitempty"`
	BeeminderGoal *string `json:"beeminderGoal,omitempty"`
}

// Apply returns a copy of s with every non-nil field of the patch applied.
func (p SettingsPatch) Apply(s Settings) (Settings, error) {
	if p.Visibility != nil {
		visibility, err := ParseVisibility(*p.Visibility)
		if err != nil {
			return Settings{}, err
		}
		s.Visibility = visibility
	}
	if p.Archived != nil {
		s.Archived = *p.Archived
	}
	if p.ReverseOrder != nil {
		s.ReverseOrder = *p.ReverseOrder
	}
	if p.BeeminderGoal != nil {
		s.BeeminderGoal = *p.BeeminderGoal
	}
	return s, nil
}

// Node is a card. A node with an empty ParentID is a board.
type Node struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"ownerId"`
	ParentID      string     `json:"parentId,omitempty"`
	Title         string     `json:"title"`
	ChildrenOrder Order      `json:"childrenOrder"`
	Settings      Settings   `json:"settings"`
	FiredAt       *time.Time `json:"firedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (n Node) IsBoard() bool {
	return n.ParentID == ""
}

type Comment struct {
	ID         string     `json:"id"`
	CardID     string     `json:"cardId"`
	OwnerID    string     `json:"ownerId"`
	Content    string     `json:"content"`
	Visibility Visibility `json:"visibility"`
	Pinned     bool       `json:"pinned"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Reply belongs to a comment. AuthorID is empty once the author's account
// has been deleted.
type Reply struct {
	ID         string     `json:"id"`
	CommentID  string     `json:"commentId"`
	AuthorID   string     `json:"authorId,omitempty"`
	Content    string     `json:"content"`
	Visibility Visibility `json:"visibility"`
	CreatedAt  time.Time  `json:"createdAt"`
}
