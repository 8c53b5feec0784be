package cards

import (
	"context"
	"errors"
	"fmt"
)

// DefaultMaxDepth bounds the visibility ascent. Chains deeper than this are
// treated as not reaching the root.
const DefaultMaxDepth = 256

// Chain is a card followed by its ancestors, nearest first.
type Chain []Node

// LoadChain reads the ancestors of node. The walk stops at a board, at a
// parent that no longer exists, at a repeated ID, or after maxDepth
// ancestors; in the last three cases the chain does not end at a board.
func LoadChain(ctx context.Context, tx Tx, node Node, maxDepth int) (Chain, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	chain := Chain{node}
	visited := map[string]struct{}{node.ID: {}}
	current := node
	for current.ParentID != "" && len(chain) <= maxDepth {
		if _, loop := visited[current.ParentID]; loop {
			break
		}
		parent, err := tx.GetNode(ctx, current.ParentID)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("load ancestor %s: %w", current.ParentID, err)
		}
		visited[parent.ID] = struct{}{}
		chain = append(chain, parent)
		current = parent
	}
	return chain, nil
}

// childChain extends a parent's chain with child and keeps it within the
// same bound LoadChain applies.
func childChain(child Node, parentChain Chain, maxDepth int) Chain {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	chain := append(Chain{child}, parentChain...)
	if len(chain) > maxDepth+1 {
		chain = chain[:maxDepth+1]
	}
	return chain
}

// reachesRoot reports whether the last element of the chain is a board.
func (c Chain) reachesRoot() bool {
	return len(c) > 0 && c[len(c)-1].IsBoard()
}

// CanSee reports whether viewerID may see the first card of the chain. An
// empty viewerID is an anonymous viewer. Walking up, a card owned by the
// viewer grants access, a non-public card denies it, and reaching a public
// board grants it.
func CanSee(viewerID string, chain Chain) bool {
	for i, node := range chain {
		if viewerID != "" && node.OwnerID == viewerID {
			return true
		}
		if node.Settings.Visibility != VisibilityPublic {
			return false
		}
		if node.IsBoard() {
			return i == len(chain)-1
		}
	}
	return false
}

// CanEdit is a direct ownership check; it never looks at ancestors.
func CanEdit(viewerID string, node Node) bool {
	return viewerID != "" && node.OwnerID == viewerID
}

func CanSeeComment(viewerID string, comment Comment, cardChain Chain) bool {
	if viewerID != "" && comment.OwnerID == viewerID {
		return true
	}
	return comment.Visibility == VisibilityPublic && CanSee(viewerID, cardChain)
}

func CanEditComment(viewerID string, comment Comment) bool {
	return viewerID != "" && comment.OwnerID == viewerID
}

func CanSeeReply(viewerID string, reply Reply, comment Comment, cardChain Chain) bool {
	if viewerID != "" && reply.AuthorID == viewerID {
		return true
	}
	return reply.Visibility == VisibilityPublic && CanSeeComment(viewerID, comment, cardChain)
}

func CanEditReply(viewerID string, reply Reply) bool {
	return viewerID != "" && reply.AuthorID == viewerID
}

// CanDeleteReply lets comment owners moderate replies on their own threads
// in addition to the reply's author.
func CanDeleteReply(viewerID string, reply Reply, comment Comment) bool {
	if viewerID == "" {
		return false
	}
	return reply.AuthorID == viewerID || comment.OwnerID == viewerID
}
