package search

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across documents and score_events using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
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
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultDocument {
		docWhere := "d.fts @@ " + tsQuery
		if q.FilterUserID != "" {
			docWhere += fmt.Sprintf(" AND d.owner_id = $%d", argN)
			args = append(args, q.FilterUserID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id::text, d.title,
				''::text AS snippet,
				d.id::text AS document_id, d.owner_id AS user_id,
				ts_rank(d.fts, %s) AS rank
			FROM documents d
			WHERE %s
		`, tsQuery, docWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultEvent {
		eventWhere := "e.fts @@ " + tsQuery
		if q.FilterUserID != "" {
			eventWhere += fmt.Sprintf(" AND e.user_id = $%d", argN)
			args = append(args, q.FilterUserID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'event'::text AS type, e.id::text, e.event_type AS title,
				ts_headline('english', coalesce(e.reason, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				coalesce(e.document_id, '') AS document_id, e.user_id,
				ts_rank(e.fts, %s) AS rank
			FROM score_events e
			WHERE %s
		`, tsQuery, tsQuery, eventWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	combined := strings.Join(subQueries, " UNION ALL ")
	query := fmt.Sprintf(`
		SELECT type, id, title, snippet, document_id, user_id
		FROM (%s) hits
		ORDER BY rank DESC
		LIMIT $%d OFFSET $%d
	`, combined, argN, argN+1)
	args = append(args, limit, offset)

	rows, err := p.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var rtyp string
		if err := rows.Scan(&rtyp, &r.ID, &r.Title, &r.Snippet, &r.DocumentID, &r.UserID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(rtyp)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts rows: %w", err)
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM (%s) hits`, combined)
	var total int
	if err := p.db.QueryRowContext(context.Background(), countQuery, args[:len(args)-2]...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	return results, total, nil
}

// LoadAllRecords fetches everything worth indexing, used to reseed
// Meilisearch after it recovers or on first boot.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []EventRecord, error) {
	documentRows, err := p.db.QueryContext(ctx,
		`SELECT id, title, owner_id, status FROM documents`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer documentRows.Close()

	var documents []DocumentRecord
	for documentRows.Next() {
		var doc DocumentRecord
		if err := documentRows.Scan(&doc.ID, &doc.Title, &doc.OwnerID, &doc.Status); err != nil {
			return nil, nil, fmt.Errorf("scan document record: %w", err)
		}
		documents = append(documents, doc)
	}
	if err := documentRows.Err(); err != nil {
		return nil, nil, err
	}

	eventRows, err := p.db.QueryContext(ctx, `
		SELECT id, coalesce(reason, ''), event_type, user_id, coalesce(document_id, '')
		FROM score_events
		WHERE reason <> ''
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load events: %w", err)
	}
	defer eventRows.Close()

	var events []EventRecord
	for eventRows.Next() {
		var event EventRecord
		var id int64
		if err := eventRows.Scan(&id, &event.Reason, &event.EventType, &event.UserID, &event.DocumentID); err != nil {
			return nil, nil, fmt.Errorf("scan event record: %w", err)
		}
		event.ID = strconv.FormatInt(id, 10)
		events = append(events, event)
	}
	return documents, events, eventRows.Err()
}
