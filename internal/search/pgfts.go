package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches records with PostgreSQL full-text search. It backs the
// service whenever Meilisearch is absent or unhealthy.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// ftsSource describes how one table maps onto search documents.
type ftsSource struct {
	typ    ResultType
	table  string
	title  string
	body   string
	status string
}

var ftsSources = []ftsSource{
	{typ: ResultTask, table: "tasks", title: "r.title", body: "r.assignee", status: "r.status"},
	{typ: ResultIssue, table: "issues", title: "r.title", body: "r.body", status: "r.status"},
	{typ: ResultFile, table: "files", title: "r.name", body: "r.content_type", status: "''::text"},
	{typ: ResultDaily, table: "daily_log", title: "left(r.content, 80)", body: "r.content", status: "''::text"},
}

// Search runs a UNION ALL over the record tables using plainto_tsquery and
// ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.AccountID}
	where := "r.fts @@ " + tsQuery + " AND r.account_id = $2"
	if q.SpaceID != "" {
		args = append(args, q.SpaceID)
		where += " AND r.space_id = $3"
	}

	var subQueries []string
	for _, src := range ftsSources {
		if q.FilterType != "" && q.FilterType != src.typ {
			continue
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT '%s'::text AS type, r.id, %s AS title,
				ts_headline('english', coalesce(%s, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				coalesce(r.space_id, '') AS space_id,
				ts_rank(r.fts, %s) AS rank
			FROM %s r
			WHERE %s`, src.typ, src.title, src.body, tsQuery, tsQuery, src.table, where))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, space_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, limit, offset)

	ctx := context.Background()

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
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.SpaceID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record grouped by type, for full
// reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) (map[ResultType][]Document, error) {
	out := make(map[ResultType][]Document, len(ftsSources))
	for _, src := range ftsSources {
		docs, err := p.loadSource(ctx, src)
		if err != nil {
			return nil, err
		}
		out[src.typ] = docs
	}
	return out, nil
}

func (p *PgFTS) loadSource(ctx context.Context, src ftsSource) ([]Document, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT r.id, r.account_id, coalesce(r.space_id, ''), %s, %s, %s
		FROM %s r
	`, src.title, src.body, src.status, src.table))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", src.table, err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.AccountID, &d.SpaceID, &d.Title, &d.Body, &d.Status); err != nil {
			return nil, fmt.Errorf("scan %s: %w", src.table, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", src.table, err)
	}
	return docs, nil
}
