package cards

import "context"

// Tx is the persistence handle handed to a transaction function. Get methods
// return an error wrapping ErrNotFound for missing records.
type Tx interface {
	GetNode(ctx context.Context, id string) (Node, error)
	// ListChildIDs returns the IDs of cards whose parent pointer is parentID,
	// oldest first. It reads parent pointers, not the stored order list.
	ListChildIDs(ctx context.Context, parentID string) ([]string, error)
	// ListBoards returns the top-level cards owned by ownerID, oldest first.
	ListBoards(ctx context.Context, ownerID string) ([]Node, error)
	InsertNode(ctx context.Context, node Node) error
	UpdateNode(ctx context.Context, node Node) error
	// DeleteNode removes one card together with its comments and their
	// replies. Callers delete child cards first and maintain the parent's
	// order list themselves.
	DeleteNode(ctx context.Context, id string) error

	GetComment(ctx context.Context, id string) (Comment, error)
	ListComments(ctx context.Context, cardID string) ([]Comment, error)
	InsertComment(ctx context.Context, comment Comment) error
	UpdateComment(ctx context.Context, comment Comment) error
	DeleteComment(ctx context.Context, id string) error

	GetReply(ctx context.Context, id string) (Reply, error)
	// ListReplies returns replies oldest first.
	ListReplies(ctx context.Context, commentID string) ([]Reply, error)
	InsertReply(ctx context.Context, reply Reply) error
	DeleteReply(ctx context.Context, id string) error
}

// Transactor runs functions against storage atomically.
//
// Update must give fn serializable isolation over every read and write it
// performs: two concurrent Update calls touching the same card behave as if
// one ran entirely before the other. If storage aborts a transaction because
// of a concurrent writer, Update returns an error wrapping ErrConflict. Any
// error returned by fn rolls the transaction back and is returned unchanged.
//
// View gives fn a consistent read-only snapshot.
type Transactor interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}
