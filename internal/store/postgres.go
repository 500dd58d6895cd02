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

	"formsmith/api/internal/form"
	"formsmith/api/internal/util"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
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

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func timestampOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// CreateForm inserts the form and its elements in one transaction. A missing
// id is generated.
func (s *PostgresStore) CreateForm(ctx context.Context, doc form.Document) (form.Document, error) {
	doc = doc.Clone()
	if doc.ID == "" {
		doc.ID = util.NewID("frm")
	}
	doc.CreatedAt = timestampOrNow(doc.CreatedAt)
	doc.UpdatedAt = timestampOrNow(doc.UpdatedAt)

	settings, err := json.Marshal(doc.Settings)
	if err != nil {
		return form.Document{}, fmt.Errorf("encode settings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return form.Document{}, fmt.Errorf("begin create form tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO forms (id, owner_email, title, description, theme_color, logo_url, lifecycle_state, settings, archived, created_at, updated_at, last_edited_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11, $12)
	`, doc.ID, doc.OwnerEmail, doc.Title, doc.Description, doc.ThemeColor, doc.LogoURL, string(doc.Lifecycle), string(settings), doc.Archived, doc.CreatedAt, doc.UpdatedAt, doc.LastEditedAt)
	if err != nil {
		return form.Document{}, fmt.Errorf("insert form: %w", err)
	}
	if err := insertElements(ctx, tx, doc.ID, doc.Elements); err != nil {
		return form.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return form.Document{}, fmt.Errorf("commit create form: %w", err)
	}
	return doc, nil
}

// UpdateForm overwrites the form's content and lifecycle and replaces its
// element rows in order. Ownership and the archive flag are not touched.
func (s *PostgresStore) UpdateForm(ctx context.Context, doc form.Document) (form.Document, error) {
	doc = doc.Clone()
	doc.UpdatedAt = timestampOrNow(doc.UpdatedAt)

	settings, err := json.Marshal(doc.Settings)
	if err != nil {
		return form.Document{}, fmt.Errorf("encode settings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return form.Document{}, fmt.Errorf("begin update form tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		UPDATE forms
		SET title=$2, description=$3, theme_color=$4, logo_url=$5, lifecycle_state=$6, settings=$7::jsonb, updated_at=$8, last_edited_at=$9
		WHERE id=$1
		RETURNING owner_email, archived, created_at
	`, doc.ID, doc.Title, doc.Description, doc.ThemeColor, doc.LogoURL, string(doc.Lifecycle), string(settings), doc.UpdatedAt, doc.LastEditedAt).
		Scan(&doc.OwnerEmail, &doc.Archived, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return form.Document{}, fmt.Errorf("update form %s: %w", doc.ID, form.ErrNotFound)
	}
	if err != nil {
		return form.Document{}, fmt.Errorf("update form: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM form_elements WHERE form_id=$1`, doc.ID); err != nil {
		return form.Document{}, fmt.Errorf("clear elements: %w", err)
	}
	if err := insertElements(ctx, tx, doc.ID, doc.Elements); err != nil {
		return form.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return form.Document{}, fmt.Errorf("commit update form: %w", err)
	}
	return doc, nil
}

func insertElements(ctx context.Context, tx *sql.Tx, formID string, elements []form.Element) error {
	for i, el := range elements {
		options, err := json.Marshal(nonNilOptions(el.Options))
		if err != nil {
			return fmt.Errorf("encode options: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO form_elements (form_id, id, position, kind, label, placeholder, required, options, max_rating, word_limit)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10)
		`, formID, el.ID, i, string(el.Kind), el.Label, el.Placeholder, el.Required, string(options), nullInt(el.MaxRating), nullInt(el.WordLimit))
		if err != nil {
			return fmt.Errorf("insert element %s: %w", el.ID, err)
		}
	}
	return nil
}

func nonNilOptions(options []string) []string {
	if options == nil {
		return []string{}
	}
	return options
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func (s *PostgresStore) GetForm(ctx context.Context, id string) (form.Document, error) {
	var (
		doc       form.Document
		lifecycle string
		settings  []byte
		edited    sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_email, title, description, theme_color, logo_url, lifecycle_state, settings, archived, created_at, updated_at, last_edited_at
		FROM forms
		WHERE id=$1
	`, id).Scan(&doc.ID, &doc.OwnerEmail, &doc.Title, &doc.Description, &doc.ThemeColor, &doc.LogoURL, &lifecycle, &settings, &doc.Archived, &doc.CreatedAt, &doc.UpdatedAt, &edited)
	if errors.Is(err, sql.ErrNoRows) {
		return form.Document{}, fmt.Errorf("form %s: %w", id, form.ErrNotFound)
	}
	if err != nil {
		return form.Document{}, fmt.Errorf("get form: %w", err)
	}
	doc.Lifecycle = form.Lifecycle(lifecycle)
	if err := json.Unmarshal(settings, &doc.Settings); err != nil {
		return form.Document{}, fmt.Errorf("decode settings: %w", err)
	}
	if edited.Valid {
		t := edited.Time
		doc.LastEditedAt = &t
	}

	elements, err := s.listElements(ctx, id)
	if err != nil {
		return form.Document{}, err
	}
	doc.Elements = elements
	return doc, nil
}

func (s *PostgresStore) listElements(ctx context.Context, formID string) ([]form.Element, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, label, placeholder, required, options, max_rating, word_limit
		FROM form_elements
		WHERE form_id=$1
		ORDER BY position ASC
	`, formID)
	if err != nil {
		return nil, fmt.Errorf("list elements: %w", err)
	}
	defer rows.Close()

	items := make([]form.Element, 0)
	for rows.Next() {
		var (
			el        form.Element
			kind      string
			options   []byte
			maxRating sql.NullInt64
			wordLimit sql.NullInt64
		)
		if err := rows.Scan(&el.ID, &kind, &el.Label, &el.Placeholder, &el.Required, &options, &maxRating, &wordLimit); err != nil {
			return nil, fmt.Errorf("scan element: %w", err)
		}
		el.Kind = form.Kind(kind)
		if err := json.Unmarshal(options, &el.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
		if len(el.Options) == 0 {
			el.Options = nil
		}
		el.MaxRating = intPtr(maxRating)
		el.WordLimit = intPtr(wordLimit)
		items = append(items, el)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate elements: %w", err)
	}
	return items, nil
}

// DeleteForm removes the form; elements, collaborators, comments and
// responses go with it through ON DELETE CASCADE.
func (s *PostgresStore) DeleteForm(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM forms WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete form: %w", err)
	}
	return expectAffected(result, "delete form", id)
}

func (s *PostgresStore) ArchiveForm(ctx context.Context, id string, archived bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE forms SET archived=$2, updated_at=NOW() WHERE id=$1`, id, archived)
	if err != nil {
		return fmt.Errorf("archive form: %w", err)
	}
	return expectAffected(result, "archive form", id)
}

func expectAffected(result sql.Result, op, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", op, id, form.ErrNotFound)
	}
	return nil
}

// ListFormsForUser returns the forms email owns or collaborates on, most
// recently updated first.
func (s *PostgresStore) ListFormsForUser(ctx context.Context, email string, includeArchived bool) ([]FormSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.title, f.owner_email, f.lifecycle_state, f.archived,
			CASE WHEN LOWER(f.owner_email) = $1 THEN 'owner' ELSE COALESCE(c.role, 'none') END,
			(SELECT count(*) FROM form_elements e WHERE e.form_id = f.id),
			f.created_at, f.updated_at, f.last_edited_at
		FROM forms f
		LEFT JOIN form_collaborators c ON c.form_id = f.id AND LOWER(c.email) = $1
		WHERE (LOWER(f.owner_email) = $1 OR c.id IS NOT NULL)
		  AND ($2::boolean OR NOT f.archived)
		ORDER BY f.updated_at DESC
	`, normalizeEmail(email), includeArchived)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	defer rows.Close()

	items := make([]FormSummary, 0)
	for rows.Next() {
		var (
			item      FormSummary
			lifecycle string
			edited    sql.NullTime
		)
		if err := rows.Scan(&item.ID, &item.Title, &item.OwnerEmail, &lifecycle, &item.Archived, &item.Role, &item.ElementCount, &item.CreatedAt, &item.UpdatedAt, &edited); err != nil {
			return nil, fmt.Errorf("scan form summary: %w", err)
		}
		item.Lifecycle = form.Lifecycle(lifecycle)
		if edited.Valid {
			t := edited.Time
			item.LastEditedAt = &t
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate forms: %w", err)
	}
	return items, nil
}

// AddCollaborator grants access. The email is unique per form regardless of
// case.
func (s *PostgresStore) AddCollaborator(ctx context.Context, c form.Collaborator) (form.Collaborator, error) {
	if c.ID == "" {
		c.ID = util.NewID("col")
	}
	c.Email = strings.TrimSpace(c.Email)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO form_collaborators (id, form_id, email, role)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, c.ID, c.FormID, c.Email, string(c.Role)).Scan(&c.CreatedAt)
	switch pgCode(err) {
	case "":
	case pgUniqueViolation:
		return form.Collaborator{}, fmt.Errorf("add %s: %w", c.Email, form.ErrAlreadyCollaborator)
	case pgForeignKeyViolation:
		return form.Collaborator{}, fmt.Errorf("form %s: %w", c.FormID, form.ErrNotFound)
	}
	if err != nil {
		return form.Collaborator{}, fmt.Errorf("insert collaborator: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListCollaborators(ctx context.Context, formID string) ([]form.Collaborator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, form_id, email, role, created_at
		FROM form_collaborators
		WHERE form_id=$1
		ORDER BY created_at ASC, id ASC
	`, formID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	items := make([]form.Collaborator, 0)
	for rows.Next() {
		item, err := scanCollaborator(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collaborators: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollaborator(row rowScanner) (form.Collaborator, error) {
	var (
		item form.Collaborator
		role string
	)
	if err := row.Scan(&item.ID, &item.FormID, &item.Email, &role, &item.CreatedAt); err != nil {
		return form.Collaborator{}, err
	}
	item.Role = form.CollaboratorRole(role)
	return item, nil
}

func (s *PostgresStore) UpdateCollaboratorRole(ctx context.Context, formID, collaboratorID string, role form.CollaboratorRole) (form.Collaborator, error) {
	item, err := scanCollaborator(s.db.QueryRowContext(ctx, `
		UPDATE form_collaborators SET role=$3
		WHERE form_id=$1 AND id=$2
		RETURNING id, form_id, email, role, created_at
	`, formID, collaboratorID, string(role)))
	if errors.Is(err, sql.ErrNoRows) {
		return form.Collaborator{}, fmt.Errorf("collaborator %s: %w", collaboratorID, form.ErrNotFound)
	}
	if err != nil {
		return form.Collaborator{}, fmt.Errorf("update collaborator role: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) RemoveCollaborator(ctx context.Context, formID, collaboratorID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM form_collaborators WHERE form_id=$1 AND id=$2`, formID, collaboratorID)
	if err != nil {
		return fmt.Errorf("remove collaborator: %w", err)
	}
	return expectAffected(result, "remove collaborator", collaboratorID)
}

func (s *PostgresStore) ListComments(ctx context.Context, formID string) ([]form.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, form_id, COALESCE(element_id, ''), content, author_email, author_display_name, created_at
		FROM form_comments
		WHERE form_id=$1
		ORDER BY created_at ASC, id ASC
	`, formID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]form.Comment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func scanComment(row rowScanner) (form.Comment, error) {
	var (
		item      form.Comment
		elementID string
	)
	if err := row.Scan(&item.ID, &item.FormID, &elementID, &item.Content, &item.AuthorEmail, &item.AuthorDisplayName, &item.CreatedAt); err != nil {
		return form.Comment{}, err
	}
	item.Target = form.OnElement(elementID)
	return item, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, formID, commentID string) (form.Comment, error) {
	item, err := scanComment(s.db.QueryRowContext(ctx, `
		SELECT id, form_id, COALESCE(element_id, ''), content, author_email, author_display_name, created_at
		FROM form_comments
		WHERE form_id=$1 AND id=$2
	`, formID, commentID))
	if errors.Is(err, sql.ErrNoRows) {
		return form.Comment{}, fmt.Errorf("comment %s: %w", commentID, form.ErrNotFound)
	}
	if err != nil {
		return form.Comment{}, fmt.Errorf("get comment: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) CreateComment(ctx context.Context, c form.Comment) (form.Comment, error) {
	if c.ID == "" {
		c.ID = util.NewID("cmt")
	}
	c.CreatedAt = timestampOrNow(c.CreatedAt)
	elementID, _ := c.Target.ElementID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO form_comments (id, form_id, element_id, content, author_email, author_display_name, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
	`, c.ID, c.FormID, elementID, c.Content, c.AuthorEmail, c.AuthorDisplayName, c.CreatedAt)
	if pgCode(err) == pgForeignKeyViolation {
		return form.Comment{}, fmt.Errorf("form %s: %w", c.FormID, form.ErrNotFound)
	}
	if err != nil {
		return form.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, formID, commentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM form_comments WHERE form_id=$1 AND id=$2`, formID, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return expectAffected(result, "delete comment", commentID)
}

func (s *PostgresStore) InsertResponse(ctx context.Context, r Response) (Response, error) {
	if r.ID == "" {
		r.ID = util.NewID("rsp")
	}
	r.SubmittedAt = timestampOrNow(r.SubmittedAt)
	answers, err := json.Marshal(r.Answers)
	if err != nil {
		return Response{}, fmt.Errorf("encode answers: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO form_responses (id, form_id, respondent_email, answers, submitted_at)
		VALUES ($1, $2, NULLIF($3, ''), $4::jsonb, $5)
	`, r.ID, r.FormID, r.RespondentEmail, string(answers), r.SubmittedAt)
	if err != nil {
		return Response{}, fmt.Errorf("insert response: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) CountResponses(ctx context.Context, formID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM form_responses WHERE form_id=$1`, formID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count responses: %w", err)
	}
	return count, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
