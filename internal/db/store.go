package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fundscout/fundscout/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicate reports an insert that hit a unique constraint. Callers in the
// ingest pipeline treat this as benign: the record already exists.
var ErrDuplicate = errors.New("duplicate record")

// ErrNotFound reports a lookup that matched no row.
var ErrNotFound = errors.New("not found")

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// selectCols is the comprehensive column list for opportunity queries.
const selectCols = `id, slug, funder_id, title, summary, amount_display,
	deadline_display, deadline_at, application_url, source_url, status,
	opportunity_type, org_types, geographies, amount_min, amount_max,
	expected_awards, complexity, requires_loi, content_hash, verified,
	featured, review_note, created_at, updated_at`

// prefixCols qualifies every column in selectCols with a table alias for
// joined queries.
func prefixCols(alias string) string {
	parts := strings.Split(selectCols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanOpportunity(scan func(dest ...interface{}) error) (models.OpportunityRecord, error) {
	var o models.OpportunityRecord
	var sourceURL *string

	err := scan(
		&o.ID, &o.Slug, &o.FunderID, &o.Title, &o.Summary, &o.AmountDisplay,
		&o.DeadlineDisplay, &o.DeadlineAt, &o.ApplicationURL, &sourceURL, &o.Status,
		&o.OpportunityType, &o.OrgTypes, &o.Geographies, &o.AmountMin, &o.AmountMax,
		&o.ExpectedAwards, &o.Complexity, &o.RequiresLOI, &o.ContentHash, &o.Verified,
		&o.Featured, &o.ReviewNote, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}

	if sourceURL != nil {
		o.SourceURL = *sourceURL
	}

	return o, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// nilIfEmpty maps "" to NULL so the partial unique index on
// (funder_id, source_url) only guards rows with real provenance.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// --- Funders ---

// UpsertFunder syncs a registry funder into the funders table by slug and
// returns its id. Registry values win on name/type/url/hints.
func (s *Store) UpsertFunder(ctx context.Context, f *models.FunderSource) (uuid.UUID, error) {
	hints, err := json.Marshal(f.SelectorHints)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal selector hints: %w", err)
	}
	if f.SelectorHints == nil {
		hints = []byte("{}")
	}

	var id uuid.UUID
	err = s.pool.QueryRow(ctx, `
		INSERT INTO funders (slug, name, funder_type, page_url, selector_hints)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			funder_type = EXCLUDED.funder_type,
			page_url = EXCLUDED.page_url,
			selector_hints = EXCLUDED.selector_hints
		RETURNING id
	`, f.Slug, f.Name, f.FunderType, nilIfEmpty(f.PageURL), hints).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert funder %s: %w", f.Slug, err)
	}
	return id, nil
}

func (s *Store) TouchFunderChecked(ctx context.Context, funderID uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE funders SET last_checked_at = $2 WHERE id = $1`, funderID, at)
	if err != nil {
		return fmt.Errorf("touch funder %s: %w", funderID, err)
	}
	return nil
}

// --- Opportunities ---

// OpportunitiesByFunder returns every record attached to a funder, the
// matcher's comparison set.
func (s *Store) OpportunitiesByFunder(ctx context.Context, funderID uuid.UUID) ([]models.OpportunityRecord, error) {
	sql := fmt.Sprintf(`SELECT %s FROM opportunities WHERE funder_id = $1 ORDER BY created_at`, selectCols)
	rows, err := s.pool.Query(ctx, sql, funderID)
	if err != nil {
		return nil, fmt.Errorf("query funder opportunities: %w", err)
	}
	defer rows.Close()

	var out []models.OpportunityRecord
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) OpportunityBySourceURL(ctx context.Context, funderID uuid.UUID, sourceURL string) (*models.OpportunityRecord, error) {
	sql := fmt.Sprintf(`SELECT %s FROM opportunities WHERE funder_id = $1 AND source_url = $2`, selectCols)
	row := s.pool.QueryRow(ctx, sql, funderID, sourceURL)

	o, err := scanOpportunity(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup by source url: %w", err)
	}
	return &o, nil
}

// InsertOpportunity persists a new record and fills in its generated id and
// timestamps. A unique-constraint hit returns ErrDuplicate.
func (s *Store) InsertOpportunity(ctx context.Context, o *models.OpportunityRecord) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO opportunities (
			slug, funder_id, title, summary, amount_display, deadline_display,
			deadline_at, application_url, source_url, status, opportunity_type,
			org_types, geographies, amount_min, amount_max, expected_awards,
			complexity, requires_loi, content_hash, verified, review_note
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21
		)
		RETURNING id, created_at, updated_at
	`,
		o.Slug, o.FunderID, o.Title, o.Summary, o.AmountDisplay, o.DeadlineDisplay,
		o.DeadlineAt, o.ApplicationURL, nilIfEmpty(o.SourceURL), o.Status, o.OpportunityType,
		o.OrgTypes, o.Geographies, o.AmountMin, o.AmountMax, o.ExpectedAwards,
		o.Complexity, o.RequiresLOI, o.ContentHash, o.Verified, o.ReviewNote,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert opportunity %s: %w", o.Slug, err)
	}

	if len(o.FocusAreas) > 0 {
		if err := s.SetFocusAreas(ctx, o.ID, o.FocusAreas); err != nil {
			return err
		}
	}
	return nil
}

// UpdateOpportunity patches the volatile presentation fields of a matched
// record after a content-hash change.
func (s *Store) UpdateOpportunity(ctx context.Context, o *models.OpportunityRecord) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE opportunities SET
			summary = $2,
			amount_display = $3,
			deadline_display = $4,
			deadline_at = $5,
			application_url = $6,
			status = $7,
			content_hash = $8,
			updated_at = NOW()
		WHERE id = $1
	`, o.ID, o.Summary, o.AmountDisplay, o.DeadlineDisplay, o.DeadlineAt,
		o.ApplicationURL, o.Status, o.ContentHash)
	if err != nil {
		return fmt.Errorf("update opportunity %s: %w", o.ID, err)
	}
	return nil
}

// PatchFederalFields applies the narrow federal-refresh update: lifecycle
// fields only, descriptive fields left alone.
func (s *Store) PatchFederalFields(ctx context.Context, id uuid.UUID, status string, deadlineAt *time.Time, deadlineDisplay, contentHash string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE opportunities SET
			status = $2,
			deadline_at = $3,
			deadline_display = $4,
			content_hash = $5,
			updated_at = NOW()
		WHERE id = $1
	`, id, status, deadlineAt, deadlineDisplay, contentHash)
	if err != nil {
		return fmt.Errorf("patch opportunity %s: %w", id, err)
	}
	return nil
}

// SetFocusAreas replaces the focus-area tags of a record, creating any tag
// rows that do not exist yet.
func (s *Store) SetFocusAreas(ctx context.Context, oppID uuid.UUID, slugs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin focus areas tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM opportunity_focus_areas WHERE opportunity_id = $1`, oppID); err != nil {
		return fmt.Errorf("clear focus areas: %w", err)
	}

	for _, slug := range slugs {
		var faID uuid.UUID
		err := tx.QueryRow(ctx, `
			INSERT INTO focus_areas (slug) VALUES ($1)
			ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug
			RETURNING id
		`, slug).Scan(&faID)
		if err != nil {
			return fmt.Errorf("ensure focus area %s: %w", slug, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO opportunity_focus_areas (opportunity_id, focus_area_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING
		`, oppID, faID); err != nil {
			return fmt.Errorf("link focus area %s: %w", slug, err)
		}
	}

	return tx.Commit(ctx)
}

// --- Lifecycle sweeps ---

// CloseExpired flips open/closing_soon records with a past deadline to
// closed. Idempotent: a second run the same day matches zero rows.
func (s *Store) CloseExpired(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE opportunities SET status = 'closed', updated_at = NOW()
		WHERE status IN ('open', 'closing_soon')
		  AND deadline_at IS NOT NULL
		  AND deadline_at < $1
	`, asOf)
	if err != nil {
		return 0, fmt.Errorf("close expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkClosingSoon flips open records whose deadline falls within the window
// ending at cutoff (today + 14 days) to closing_soon.
func (s *Store) MarkClosingSoon(ctx context.Context, asOf, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE opportunities SET status = 'closing_soon', updated_at = NOW()
		WHERE status = 'open'
		  AND deadline_at IS NOT NULL
		  AND deadline_at >= $1
		  AND deadline_at <= $2
	`, asOf, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark closing soon: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Link validation ---

// ActiveVerifiedWithURL returns the link validator's sweep set.
func (s *Store) ActiveVerifiedWithURL(ctx context.Context) ([]models.OpportunityRecord, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM opportunities
		WHERE status IN ('open', 'closing_soon', 'upcoming')
		  AND verified = true
		  AND application_url != ''
		ORDER BY updated_at
	`, selectCols)
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query link sweep set: %w", err)
	}
	defer rows.Close()

	var out []models.OpportunityRecord
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Quarantine marks a record whose application link is dead: closed,
// unverified, and annotated for human review.
func (s *Store) Quarantine(ctx context.Context, id uuid.UUID, note string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE opportunities SET
			status = 'closed',
			verified = false,
			review_note = $2,
			updated_at = NOW()
		WHERE id = $1
	`, id, note)
	if err != nil {
		return fmt.Errorf("quarantine opportunity %s: %w", id, err)
	}
	return nil
}

// TouchOpportunity records a successful link check.
func (s *Store) TouchOpportunity(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE opportunities SET updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch opportunity %s: %w", id, err)
	}
	return nil
}

// --- Featured selection ---

// FeaturedCandidates returns active verified records joined with the funder
// attributes the selector diversifies on, plus their focus-area tags.
func (s *Store) FeaturedCandidates(ctx context.Context) ([]models.FeaturedCandidate, error) {
	sql := fmt.Sprintf(`
		SELECT %s, f.slug, f.funder_type,
			COALESCE(
				(SELECT array_agg(fa.slug)
				 FROM opportunity_focus_areas ofa
				 JOIN focus_areas fa ON fa.id = ofa.focus_area_id
				 WHERE ofa.opportunity_id = o.id),
				'{}')
		FROM opportunities o
		JOIN funders f ON f.id = o.funder_id
		WHERE o.status IN ('open', 'closing_soon', 'upcoming')
		  AND o.verified = true
	`, prefixCols("o"))
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query featured candidates: %w", err)
	}
	defer rows.Close()

	var out []models.FeaturedCandidate
	for rows.Next() {
		var c models.FeaturedCandidate
		var sourceURL *string
		err := rows.Scan(
			&c.ID, &c.Slug, &c.FunderID, &c.Title, &c.Summary, &c.AmountDisplay,
			&c.DeadlineDisplay, &c.DeadlineAt, &c.ApplicationURL, &sourceURL, &c.Status,
			&c.OpportunityType, &c.OrgTypes, &c.Geographies, &c.AmountMin, &c.AmountMax,
			&c.ExpectedAwards, &c.Complexity, &c.RequiresLOI, &c.ContentHash, &c.Verified,
			&c.Featured, &c.ReviewNote, &c.CreatedAt, &c.UpdatedAt,
			&c.FunderSlug, &c.FunderType, &c.FocusAreas,
		)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		if sourceURL != nil {
			c.SourceURL = *sourceURL
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ClearFeatured(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `UPDATE opportunities SET featured = false WHERE featured = true`)
	if err != nil {
		return fmt.Errorf("clear featured: %w", err)
	}
	return nil
}

func (s *Store) SetFeatured(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE opportunities SET featured = true WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("set featured: %w", err)
	}
	return nil
}

// --- Run bookkeeping ---

func (s *Store) BeginRun(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `INSERT INTO ingest_runs DEFAULT VALUES RETURNING run_id`).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

func (s *Store) CompleteRun(ctx context.Context, sum *models.RunSummary) error {
	status := "completed"
	if len(sum.Errors) > 0 {
		status = "completed_with_errors"
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE ingest_runs SET
			status = $2,
			funders_checked = $3,
			new_records = $4,
			updated_records = $5,
			errors = $6,
			completed_at = NOW()
		WHERE run_id = $1
	`, sum.RunID, status, sum.FundersChecked, sum.NewRecords, sum.UpdatedRecords, sum.Errors)
	if err != nil {
		return fmt.Errorf("complete run %s: %w", sum.RunID, err)
	}
	return nil
}

// RunRow is one ingest_runs row as read back for operators.
type RunRow struct {
	RunID          uuid.UUID  `json:"run_id"`
	Status         string     `json:"status"`
	FundersChecked int        `json:"funders_checked"`
	NewRecords     int        `json:"new_records"`
	UpdatedRecords int        `json:"updated_records"`
	Errors         []string   `json:"errors"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
}

func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, status, funders_checked, new_records, updated_records,
			errors, started_at, completed_at
		FROM ingest_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.Status, &r.FundersChecked, &r.NewRecords,
			&r.UpdatedRecords, &r.Errors, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
