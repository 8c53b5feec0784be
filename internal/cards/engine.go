package cards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/windorg/woc-sub000/internal/util"
)

// Engine applies tree operations through a Transactor. It holds no state of
// its own and is safe for concurrent use.
type Engine struct {
	store    Transactor
	maxDepth int
	now      func() time.Time
	newID    func(prefix string) string
}

type Option func(*Engine)

// WithMaxDepth bounds the visibility ascent.
func WithMaxDepth(depth int) Option {
	return func(e *Engine) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func WithIDGenerator(newID func(prefix string) string) Option {
	return func(e *Engine) {
		e.newID = newID
	}
}

func NewEngine(store Transactor, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		maxDepth: DefaultMaxDepth,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    util.NewID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetNode returns the card if viewerID may see it. Invisible cards are
// reported as ErrNotFound.
func (e *Engine) GetNode(ctx context.Context, viewerID, id string) (Node, error) {
	var node Node
	err := e.store.View(ctx, func(tx Tx) error {
		found, _, err := e.visibleNode(ctx, tx, viewerID, id)
		if err != nil {
			return err
		}
		node = found
		return nil
	})
	if err != nil {
		return Node{}, err
	}
	return node, nil
}

// ListChildren returns the visible children of a visible card in sibling
// order. Order entries that do not resolve to a child of the card are
// skipped.
func (e *Engine) ListChildren(ctx context.Context, viewerID, id string) ([]Node, error) {
	items := make([]Node, 0)
	err := e.store.View(ctx, func(tx Tx) error {
		parent, parentChain, err := e.visibleNode(ctx, tx, viewerID, id)
		if err != nil {
			return err
		}
		seen := make(map[string]struct{}, len(parent.ChildrenOrder))
		for _, childID := range parent.ChildrenOrder {
			if _, dup := seen[childID]; dup {
				continue
			}
			seen[childID] = struct{}{}
			child, err := tx.GetNode(ctx, childID)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("get child %s: %w", childID, err)
			}
			if child.ParentID != parent.ID {
				continue
			}
			if CanSee(viewerID, childChain(child, parentChain, e.maxDepth)) {
				items = append(items, child)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ListBoards returns the boards owned by ownerID that viewerID may see.
func (e *Engine) ListBoards(ctx context.Context, viewerID, ownerID string) ([]Node, error) {
	items := make([]Node, 0)
	err := e.store.View(ctx, func(tx Tx) error {
		boards, err := tx.ListBoards(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("list boards: %w", err)
		}
		for _, board := range boards {
			if CanSee(viewerID, Chain{board}) {
				items = append(items, board)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (e *Engine) visibleNode(ctx context.Context, tx Tx, viewerID, id string) (Node, Chain, error) {
	node, err := tx.GetNode(ctx, id)
	if err != nil {
		return Node{}, nil, fmt.Errorf("card %s: %w", id, err)
	}
	chain, err := LoadChain(ctx, tx, node, e.maxDepth)
	if err != nil {
		return Node{}, nil, err
	}
	if !CanSee(viewerID, chain) {
		return Node{}, nil, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	return node, chain, nil
}

// editableNode loads a card the actor owns. Cards the actor cannot see are
// reported as ErrNotFound, visible cards owned by someone else as
// ErrForbidden.
func (e *Engine) editableNode(ctx context.Context, tx Tx, actorID, id string) (Node, error) {
	node, err := tx.GetNode(ctx, id)
	if err != nil {
		return Node{}, fmt.Errorf("card %s: %w", id, err)
	}
	if CanEdit(actorID, node) {
		return node, nil
	}
	chain, err := LoadChain(ctx, tx, node, e.maxDepth)
	if err != nil {
		return Node{}, err
	}
	if !CanSee(actorID, chain) {
		return Node{}, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	return Node{}, fmt.Errorf("card %s: %w", id, ErrForbidden)
}

// writeChildrenOrder reconciles order against the parent's actual children
// and persists it.
func (e *Engine) writeChildrenOrder(ctx context.Context, tx Tx, parent Node, order Order) (Node, error) {
	children, err := tx.ListChildIDs(ctx, parent.ID)
	if err != nil {
		return Node{}, fmt.Errorf("list children of %s: %w", parent.ID, err)
	}
	parent.ChildrenOrder = reconcile(order, children)
	parent.UpdatedAt = e.now()
	if err := tx.UpdateNode(ctx, parent); err != nil {
		return Node{}, fmt.Errorf("update order of %s: %w", parent.ID, err)
	}
	return parent, nil
}
