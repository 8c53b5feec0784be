package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL over cards and comments ranked by ts_rank, with
// ts_headline for comment snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	ownerFilter := ""
	if q.FilterOwnerID != "" {
		args = append(args, q.FilterOwnerID)
		ownerFilter = " AND owner_id = $2"
	}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultCard {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'card'::text AS type, id, title, ''::text AS snippet,
				id AS card_id, owner_id,
				ts_rank(search_vector, %s) AS rank
			FROM cards
			WHERE search_vector @@ %s%s`, tsQuery, tsQuery, ownerFilter))
	}
	if q.FilterType == "" || q.FilterType == ResultComment {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, id, ''::text AS title,
				ts_headline('simple', content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				card_id, owner_id,
				ts_rank(search_vector, %s) AS rank
			FROM comments
			WHERE search_vector @@ %s%s`, tsQuery, tsQuery, tsQuery, ownerFilter))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, card_id, owner_id
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.CardID, &r.OwnerID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]CardRecord, []CommentRecord, error) {
	cardRows, err := p.db.QueryContext(ctx, `SELECT id, title, owner_id, COALESCE(parent_id, '') FROM cards`)
	if err != nil {
		return nil, nil, fmt.Errorf("load cards: %w", err)
	}
	defer cardRows.Close()

	cards := make([]CardRecord, 0)
	for cardRows.Next() {
		var c CardRecord
		if err := cardRows.Scan(&c.ID, &c.Title, &c.OwnerID, &c.ParentID); err != nil {
			return nil, nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, c)
	}
	if err := cardRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate cards: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `SELECT id, content, card_id, owner_id FROM comments`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var c CommentRecord
		if err := commentRows.Scan(&c.ID, &c.Content, &c.CardID, &c.OwnerID); err != nil {
			return nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comments: %w", err)
	}

	return cards, comments, nil
}
