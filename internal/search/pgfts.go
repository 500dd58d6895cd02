package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"formsmith/api/internal/form"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; the store itself depends on Postgres.
func (p *PgFTS) Healthy() bool {
	return true
}

// accessibleForms restricts rows to forms owned by, or shared with, $2.
const accessibleForms = `
	(LOWER(f.owner_email) = $2
	 OR EXISTS (SELECT 1 FROM form_collaborators c WHERE c.form_id = f.id AND LOWER(c.email) = $2))`

// Search ranks forms by ts_rank over title and description. A query that
// yields no lexemes (stop words only) falls back to a title prefix match.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)

	where := `(f.fts @@ plainto_tsquery('english', $1) OR f.title ILIKE $3 || '%') AND` + accessibleForms
	if !q.IncludeArchived {
		where += ` AND NOT f.archived`
	}
	args := []any{q.Text, normalizeEmail(q.Email), strings.TrimSpace(q.Text)}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM forms f WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT f.id, f.title,
			ts_headline('english', coalesce(f.description, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30'),
			f.lifecycle_state, f.owner_email
		FROM forms f
		WHERE %s
		ORDER BY ts_rank(f.fts, plainto_tsquery('english', $1)) DESC, f.updated_at DESC
		LIMIT %d OFFSET %d`, where, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.FormID, &r.Title, &r.Snippet, &r.Lifecycle, &r.OwnerEmail); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every form as an index record for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]FormRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT f.id, f.title, f.description, f.owner_email, f.lifecycle_state, f.archived, f.updated_at,
			COALESCE((SELECT array_to_string(array_agg(LOWER(c.email)), ',') FROM form_collaborators c WHERE c.form_id = f.id), ''),
			COALESCE((SELECT string_agg(e.label, E'\n' ORDER BY e.position) FROM form_elements e WHERE e.form_id = f.id AND e.label <> ''), '')
		FROM forms f
	`)
	if err != nil {
		return nil, fmt.Errorf("load forms: %w", err)
	}
	defer rows.Close()

	records := make([]FormRecord, 0)
	for rows.Next() {
		var (
			doc           form.Document
			lifecycle     string
			updatedAt     time.Time
			members       string
			elementLabels string
		)
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Description, &doc.OwnerEmail, &lifecycle, &doc.Archived, &updatedAt, &members, &elementLabels); err != nil {
			return nil, fmt.Errorf("scan form: %w", err)
		}
		doc.Lifecycle = form.Lifecycle(lifecycle)
		doc.UpdatedAt = updatedAt

		var collaborators []form.Collaborator
		for _, email := range splitNonEmpty(members, ",") {
			collaborators = append(collaborators, form.Collaborator{Email: email})
		}
		for _, label := range splitNonEmpty(elementLabels, "\n") {
			doc.Elements = append(doc.Elements, form.Element{Label: label})
		}
		records = append(records, RecordFor(doc, collaborators))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate forms: %w", err)
	}
	return records, nil
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, sep)
}
