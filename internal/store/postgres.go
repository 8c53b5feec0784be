package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/windorg/woc-sub000/internal/cards"
	"github.com/windorg/woc-sub000/internal/util"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Update runs fn in a SERIALIZABLE transaction. Serialization failures and
// deadlocks surface as cards.ErrConflict.
func (s *PostgresStore) Update(ctx context.Context, fn func(cards.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, true, fn)
}

func (s *PostgresStore) View(ctx context.Context, fn func(cards.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, false, fn)
}

func (s *PostgresStore) run(ctx context.Context, opts *sql.TxOptions, writable bool, fn func(cards.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return classifyPgError(fmt.Errorf("begin tx: %w", err))
	}
	if err := fn(&pgTx{tx: tx, writable: writable}); err != nil {
		_ = tx.Rollback()
		return classifyPgError(err)
	}
	if err := tx.Commit(); err != nil {
		return classifyPgError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected:
			return fmt.Errorf("%w: %w", cards.ErrConflict, err)
		}
	}
	return err
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return User{}, fmt.Errorf("%w: name is required", cards.ErrInvalidInput)
	}
	const findUser = `SELECT id, display_name, created_at FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (display_name) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, display_name, created_at
	`, util.NewID("usr"), name).Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", userID, cards.ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

type pgTx struct {
	tx       *sql.Tx
	writable bool
}

const nodeColumns = `id, owner_id, parent_id, title, children_order, settings, fired_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (cards.Node, error) {
	var (
		node          cards.Node
		parentID      sql.NullString
		childrenOrder []byte
		settings      []byte
		firedAt       sql.NullTime
	)
	if err := row.Scan(&node.ID, &node.OwnerID, &parentID, &node.Title, &childrenOrder, &settings, &firedAt, &node.CreatedAt, &node.UpdatedAt); err != nil {
		return cards.Node{}, err
	}
	node.ParentID = parentID.String
	node.ChildrenOrder = cards.Order{}
	if len(childrenOrder) > 0 {
		if err := json.Unmarshal(childrenOrder, &node.ChildrenOrder); err != nil {
			return cards.Node{}, fmt.Errorf("decode children order of %s: %w", node.ID, err)
		}
	}
	node.Settings = cards.DefaultSettings()
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &node.Settings); err != nil {
			return cards.Node{}, fmt.Errorf("decode settings of %s: %w", node.ID, err)
		}
	}
	if firedAt.Valid {
		fired := firedAt.Time
		node.FiredAt = &fired
	}
	return node, nil
}

func (t *pgTx) GetNode(ctx context.Context, id string) (cards.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM cards WHERE id=$1`
	if t.writable {
		query += ` FOR UPDATE`
	}
	node, err := scanNode(t.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return cards.Node{}, cards.ErrNotFound
	}
	if err != nil {
		return cards.Node{}, fmt.Errorf("get card: %w", err)
	}
	return node, nil
}

func (t *pgTx) ListChildIDs(ctx context.Context, parentID string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT id FROM cards WHERE parent_id=$1 ORDER BY created_at, id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list child ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan child id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate child ids: %w", err)
	}
	return ids, nil
}

func (t *pgTx) ListBoards(ctx context.Context, ownerID string) ([]cards.Node, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+nodeColumns+`
		FROM cards
		WHERE owner_id=$1 AND parent_id IS NULL
		ORDER BY created_at, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	items := make([]cards.Node, 0)
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		items = append(items, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return items, nil
}

func encodeNode(node cards.Node) (order []byte, settings []byte, err error) {
	if node.ChildrenOrder == nil {
		node.ChildrenOrder = cards.Order{}
	}
	order, err = json.Marshal(node.ChildrenOrder)
	if err != nil {
		return nil, nil, fmt.Errorf("encode children order: %w", err)
	}
	settings, err = json.Marshal(node.Settings)
	if err != nil {
		return nil, nil, fmt.Errorf("encode settings: %w", err)
	}
	return order, settings, nil
}

func (t *pgTx) InsertNode(ctx context.Context, node cards.Node) error {
	order, settings, err := encodeNode(node)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO cards (id, owner_id, parent_id, title, children_order, settings, fired_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, node.ID, node.OwnerID, nullString(node.ParentID), node.Title, order, settings, nullTime(node.FiredAt), node.CreatedAt, node.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateNode(ctx context.Context, node cards.Node) error {
	order, settings, err := encodeNode(node)
	if err != nil {
		return err
	}
	result, err := t.tx.ExecContext(ctx, `
		UPDATE cards
		SET parent_id=$2, title=$3, children_order=$4, settings=$5, fired_at=$6, updated_at=$7
		WHERE id=$1
	`, node.ID, nullString(node.ParentID), node.Title, order, settings, nullTime(node.FiredAt), node.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	return expectRow(result, node.ID)
}

func (t *pgTx) DeleteNode(ctx context.Context, id string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM cards WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	return expectRow(result, id)
}

const commentColumns = `id, card_id, owner_id, content, visibility, pinned, created_at, updated_at`

func scanComment(row rowScanner) (cards.Comment, error) {
	var comment cards.Comment
	err := row.Scan(&comment.ID, &comment.CardID, &comment.OwnerID, &comment.Content, &comment.Visibility, &comment.Pinned, &comment.CreatedAt, &comment.UpdatedAt)
	return comment, err
}

func (t *pgTx) GetComment(ctx context.Context, id string) (cards.Comment, error) {
	query := `SELECT ` + commentColumns + ` FROM comments WHERE id=$1`
	if t.writable {
		query += ` FOR UPDATE`
	}
	comment, err := scanComment(t.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return cards.Comment{}, cards.ErrNotFound
	}
	if err != nil {
		return cards.Comment{}, fmt.Errorf("get comment: %w", err)
	}
	return comment, nil
}

func (t *pgTx) ListComments(ctx context.Context, cardID string) ([]cards.Comment, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE card_id=$1 ORDER BY created_at, id`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]cards.Comment, 0)
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (t *pgTx) InsertComment(ctx context.Context, comment cards.Comment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO comments (id, card_id, owner_id, content, visibility, pinned, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, comment.ID, comment.CardID, comment.OwnerID, comment.Content, string(comment.Visibility), comment.Pinned, comment.CreatedAt, comment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateComment(ctx context.Context, comment cards.Comment) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE comments SET content=$2, visibility=$3, pinned=$4, updated_at=$5 WHERE id=$1
	`, comment.ID, comment.Content, string(comment.Visibility), comment.Pinned, comment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	return expectRow(result, comment.ID)
}

func (t *pgTx) DeleteComment(ctx context.Context, id string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return expectRow(result, id)
}

const replyColumns = `id, comment_id, author_id, content, visibility, created_at`

func scanReply(row rowScanner) (cards.Reply, error) {
	var (
		reply    cards.Reply
		authorID sql.NullString
	)
	if err := row.Scan(&reply.ID, &reply.CommentID, &authorID, &reply.Content, &reply.Visibility, &reply.CreatedAt); err != nil {
		return cards.Reply{}, err
	}
	reply.AuthorID = authorID.String
	return reply, nil
}

func (t *pgTx) GetReply(ctx context.Context, id string) (cards.Reply, error) {
	reply, err := scanReply(t.tx.QueryRowContext(ctx, `SELECT `+replyColumns+` FROM replies WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return cards.Reply{}, cards.ErrNotFound
	}
	if err != nil {
		return cards.Reply{}, fmt.Errorf("get reply: %w", err)
	}
	return reply, nil
}

func (t *pgTx) ListReplies(ctx context.Context, commentID string) ([]cards.Reply, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+replyColumns+` FROM replies WHERE comment_id=$1 ORDER BY created_at, id`, commentID)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	items := make([]cards.Reply, 0)
	for rows.Next() {
		reply, err := scanReply(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		items = append(items, reply)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replies: %w", err)
	}
	return items, nil
}

func (t *pgTx) InsertReply(ctx context.Context, reply cards.Reply) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO replies (id, comment_id, author_id, content, visibility, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, reply.ID, reply.CommentID, nullString(reply.AuthorID), reply.Content, string(reply.Visibility), reply.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteReply(ctx context.Context, id string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM replies WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete reply: %w", err)
	}
	return expectRow(result, id)
}

func expectRow(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", id, cards.ErrNotFound)
	}
	return nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}
