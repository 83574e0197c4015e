package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// Only page titles live in Postgres; block text is indexed exclusively in
// Meilisearch, so the fallback returns page hits only.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over page titles, scoped to the caller's
// workspaces, ranked with ts_rank.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	if q.FilterType == ResultBlock {
		return nil, 0, nil
	}
	if len(q.WorkspaceIDs) == 0 {
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

	args := []any{q.Text}
	placeholders := make([]string, len(q.WorkspaceIDs))
	for i, id := range q.WorkspaceIDs {
		args = append(args, id)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}

	where := fmt.Sprintf(`to_tsvector('simple', p.title) @@ plainto_tsquery('simple', $1)
		AND p.workspace_id IN (%s)`, strings.Join(placeholders, ", "))

	ctx := context.Background()

	var total int
	countSQL := fmt.Sprintf(`SELECT count(*) FROM pages p WHERE %s`, where)
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT p.id, p.title, p.workspace_id
		FROM pages p
		WHERE %s
		ORDER BY ts_rank(to_tsvector('simple', p.title), plainto_tsquery('simple', $1)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		r := Result{Type: ResultPage}
		if err := rows.Scan(&r.ID, &r.Title, &r.WorkspaceID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.PageID = r.ID
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllPages returns all page records for full reindexing.
func (p *PgFTS) LoadAllPages(ctx context.Context) ([]PageRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, icon, workspace_id
		FROM pages
	`)
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	defer rows.Close()

	pages := make([]PageRecord, 0)
	for rows.Next() {
		var pr PageRecord
		if err := rows.Scan(&pr.ID, &pr.Title, &pr.Icon, &pr.WorkspaceID); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}

	return pages, nil
}
