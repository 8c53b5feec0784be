package cards

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type CreateInput struct {
	// ParentID is empty for a new board.
	ParentID string
	Title    string
	// Settings defaults to DefaultSettings when nil.
	Settings *SettingsPatch
	// Placement defaults to the head of the parent's order list.
	Placement Placement
}

type NodePatch struct {
	Title    *string       `json:"title,omitempty"`
	Settings SettingsPatch `json:"settings"`
}

type DeleteResult struct {
	FormerParent *Node
	// Deleted lists every removed card ID, the requested card first.
	Deleted []string
	// DeletedComments lists the comments removed along with those cards.
	DeletedComments []string
}

type MoveResult struct {
	Node      Node
	OldParent *Node
	NewParent *Node
}

type FireResult struct {
	Node   Node
	Parent *Node
}

// CreateNode creates a card. A child is owned by the owner of its parent and
// may only be created by that owner.
func (e *Engine) CreateNode(ctx context.Context, actorID string, input CreateInput) (Node, error) {
	if actorID == "" {
		return Node{}, fmt.Errorf("create card: %w", ErrForbidden)
	}
	settings := DefaultSettings()
	if input.Settings != nil {
		patched, err := input.Settings.Apply(settings)
		if err != nil {
			return Node{}, err
		}
		settings = patched
	}
	placement := input.Placement
	if placement.IsZero() {
		placement = AtPosition(0)
	}
	if err := placement.Validate(); err != nil {
		return Node{}, err
	}

	var created Node
	err := e.store.Update(ctx, func(tx Tx) error {
		now := e.now()
		node := Node{
			ID:            e.newID("card"),
			OwnerID:       actorID,
			ParentID:      input.ParentID,
			Title:         strings.TrimSpace(input.Title),
			ChildrenOrder: Order{},
			Settings:      settings,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if input.ParentID == "" {
			if err := tx.InsertNode(ctx, node); err != nil {
				return fmt.Errorf("insert card: %w", err)
			}
			created = node
			return nil
		}

		parent, err := e.editableNode(ctx, tx, actorID, input.ParentID)
		if err != nil {
			return err
		}
		node.OwnerID = parent.OwnerID
		order, err := ComputeReorder(node.ID, placement, parent.ChildrenOrder)
		if err != nil {
			return err
		}
		if err := tx.InsertNode(ctx, node); err != nil {
			return fmt.Errorf("insert card: %w", err)
		}
		if _, err := e.writeChildrenOrder(ctx, tx, parent, order); err != nil {
			return err
		}
		created = node
		return nil
	})
	if err != nil {
		return Node{}, err
	}
	return created, nil
}

// UpdateNode changes a card's own fields. Structure is changed through
// MoveNode and ReorderChildren only.
func (e *Engine) UpdateNode(ctx context.Context, actorID, id string, patch NodePatch) (Node, error) {
	var updated Node
	err := e.store.Update(ctx, func(tx Tx) error {
		node, err := e.editableNode(ctx, tx, actorID, id)
		if err != nil {
			return err
		}
		if patch.Title != nil {
			node.Title = strings.TrimSpace(*patch.Title)
		}
		settings, err := patch.Settings.Apply(node.Settings)
		if err != nil {
			return err
		}
		node.Settings = settings
		node.UpdatedAt = e.now()
		if err := tx.UpdateNode(ctx, node); err != nil {
			return fmt.Errorf("update card: %w", err)
		}
		updated = node
		return nil
	})
	if err != nil {
		return Node{}, err
	}
	return updated, nil
}

// DeleteNode removes a card and its whole subtree, including comments and
// replies, and drops the card from its former parent's order list.
func (e *Engine) DeleteNode(ctx context.Context, actorID, id string) (DeleteResult, error) {
	var result DeleteResult
	err := e.store.Update(ctx, func(tx Tx) error {
		node, err := e.editableNode(ctx, tx, actorID, id)
		if err != nil {
			return err
		}
		subtree, err := collectSubtree(ctx, tx, node.ID)
		if err != nil {
			return err
		}
		for i := len(subtree) - 1; i >= 0; i-- {
			comments, err := tx.ListComments(ctx, subtree[i])
			if err != nil {
				return fmt.Errorf("list comments of %s: %w", subtree[i], err)
			}
			for _, comment := range comments {
				result.DeletedComments = append(result.DeletedComments, comment.ID)
			}
			if err := tx.DeleteNode(ctx, subtree[i]); err != nil {
				return fmt.Errorf("delete card %s: %w", subtree[i], err)
			}
		}
		result.Deleted = subtree

		if node.ParentID == "" {
			return nil
		}
		parent, err := tx.GetNode(ctx, node.ParentID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get parent %s: %w", node.ParentID, err)
		}
		parent, err = e.writeChildrenOrder(ctx, tx, parent, parent.ChildrenOrder.Without(node.ID))
		if err != nil {
			return err
		}
		result.FormerParent = &parent
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	return result, nil
}

// MoveNode re-parents a card at the head of its new parent's order list. An
// empty newParentID turns the card into a board.
func (e *Engine) MoveNode(ctx context.Context, actorID, id, newParentID string) (MoveResult, error) {
	var result MoveResult
	err := e.store.Update(ctx, func(tx Tx) error {
		node, err := e.editableNode(ctx, tx, actorID, id)
		if err != nil {
			return err
		}
		var newParent Node
		if newParentID != "" {
			if newParentID == node.ID {
				return fmt.Errorf("move %s under itself: %w", node.ID, ErrCycle)
			}
			newParent, err = e.editableNode(ctx, tx, actorID, newParentID)
			if err != nil {
				return err
			}
			if newParent.OwnerID != node.OwnerID {
				return fmt.Errorf("move %s to another owner: %w", node.ID, ErrForbidden)
			}
			if err := checkCycle(ctx, tx, node.ID, newParent); err != nil {
				return err
			}
		}

		oldParentID := node.ParentID
		node.ParentID = newParentID
		node.UpdatedAt = e.now()
		if err := tx.UpdateNode(ctx, node); err != nil {
			return fmt.Errorf("update card: %w", err)
		}
		result.Node = node

		if oldParentID != "" && oldParentID != newParentID {
			oldParent, err := tx.GetNode(ctx, oldParentID)
			switch {
			case errors.Is(err, ErrNotFound):
			case err != nil:
				return fmt.Errorf("get old parent %s: %w", oldParentID, err)
			default:
				oldParent, err = e.writeChildrenOrder(ctx, tx, oldParent, oldParent.ChildrenOrder.Without(node.ID))
				if err != nil {
					return err
				}
				result.OldParent = &oldParent
			}
		}
		if newParentID != "" {
			newParent, err = e.writeChildrenOrder(ctx, tx, newParent, newParent.ChildrenOrder.InsertAt(node.ID, 0))
			if err != nil {
				return err
			}
			result.NewParent = &newParent
			if oldParentID == newParentID {
				result.OldParent = &newParent
			}
		}
		return nil
	})
	if err != nil {
		return MoveResult{}, err
	}
	return result, nil
}

// ReorderChildren moves childID within parentID's order list and returns the
// stored list.
func (e *Engine) ReorderChildren(ctx context.Context, actorID, parentID, childID string, placement Placement) (Order, error) {
	if err := placement.Validate(); err != nil {
		return nil, err
	}
	var order Order
	err := e.store.Update(ctx, func(tx Tx) error {
		parent, err := e.editableNode(ctx, tx, actorID, parentID)
		if err != nil {
			return err
		}
		child, err := tx.GetNode(ctx, childID)
		if err != nil {
			return fmt.Errorf("card %s: %w", childID, err)
		}
		if child.ParentID != parent.ID {
			return fmt.Errorf("card %s is not a child of %s: %w", childID, parentID, ErrNotFound)
		}
		next, err := ComputeReorder(child.ID, placement, parent.ChildrenOrder)
		if err != nil {
			return err
		}
		parent, err = e.writeChildrenOrder(ctx, tx, parent, next)
		if err != nil {
			return err
		}
		order = parent.ChildrenOrder
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// FireNode stamps the card's activity time and bumps it to the head of its
// siblings in the same transaction.
func (e *Engine) FireNode(ctx context.Context, actorID, id string) (FireResult, error) {
	var result FireResult
	err := e.store.Update(ctx, func(tx Tx) error {
		node, err := e.editableNode(ctx, tx, actorID, id)
		if err != nil {
			return err
		}
		now := e.now()
		node.FiredAt = &now
		node.UpdatedAt = now
		if err := tx.UpdateNode(ctx, node); err != nil {
			return fmt.Errorf("update card: %w", err)
		}
		result.Node = node
		if node.ParentID == "" {
			return nil
		}
		parent, err := tx.GetNode(ctx, node.ParentID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get parent %s: %w", node.ParentID, err)
		}
		next, err := ComputeReorder(node.ID, AtPosition(0), parent.ChildrenOrder)
		if err != nil {
			return err
		}
		parent, err = e.writeChildrenOrder(ctx, tx, parent, next)
		if err != nil {
			return err
		}
		result.Parent = &parent
		return nil
	})
	if err != nil {
		return FireResult{}, err
	}
	return result, nil
}

// checkCycle walks up from target and fails if movingID is on the way to the
// root. A missing ancestor or a loop already present in storage ends the walk.
func checkCycle(ctx context.Context, tx Tx, movingID string, target Node) error {
	visited := make(map[string]struct{})
	current := target
	for {
		if current.ID == movingID {
			return fmt.Errorf("move %s under %s: %w", movingID, target.ID, ErrCycle)
		}
		if current.ParentID == "" {
			return nil
		}
		if _, loop := visited[current.ID]; loop {
			return nil
		}
		visited[current.ID] = struct{}{}
		parent, err := tx.GetNode(ctx, current.ParentID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load ancestor %s: %w", current.ParentID, err)
		}
		current = parent
	}
}

// collectSubtree returns root and its descendants in breadth-first order,
// following parent pointers.
func collectSubtree(ctx context.Context, tx Tx, root string) ([]string, error) {
	out := []string{root}
	seen := map[string]struct{}{root: {}}
	for i := 0; i < len(out); i++ {
		children, err := tx.ListChildIDs(ctx, out[i])
		if err != nil {
			return nil, fmt.Errorf("list children of %s: %w", out[i], err)
		}
		for _, child := range children {
			if _, dup := seen[child]; dup {
				continue
			}
			seen[child] = struct{}{}
			out = append(out, child)
		}
	}
	return out, nil
}
