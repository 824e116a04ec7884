package ingest

import (
	"context"
	"io"
	"math/rand"
	"time"

	"github.com/fundscout/fundscout/internal/models"
	"github.com/google/uuid"
)

// Candidate is the ephemeral result of one extraction. It exists only within
// a pipeline run; the matcher decides whether it becomes a record.
type Candidate struct {
	Title           string
	Summary         string
	AmountDisplay   string
	DeadlineDisplay string
	DeadlineAt      *time.Time
	ApplicationURL  string
	SourceURL       string // provenance URL, set only on API-sourced candidates
	Status          string
	OpportunityType string
	OrgTypes        []string
	Geographies     []string
	FocusAreas      []string
	AmountMin       float64
	AmountMax       float64
	ExpectedAwards  int
	Complexity      string
	RequiresLOI     bool
	Verified        bool
}

// FetchedDocument is the raw result of a page fetch.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	FetchedAt   time.Time
}

// Fetcher retrieves raw content from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedDocument, error)
}

// Store is the slice of the canonical store the ingest pipeline touches.
// *db.Store satisfies it; tests use an in-memory fake.
type Store interface {
	UpsertFunder(ctx context.Context, f *models.FunderSource) (uuid.UUID, error)
	TouchFunderChecked(ctx context.Context, funderID uuid.UUID, at time.Time) error

	OpportunitiesByFunder(ctx context.Context, funderID uuid.UUID) ([]models.OpportunityRecord, error)
	OpportunityBySourceURL(ctx context.Context, funderID uuid.UUID, sourceURL string) (*models.OpportunityRecord, error)
	InsertOpportunity(ctx context.Context, o *models.OpportunityRecord) error
	UpdateOpportunity(ctx context.Context, o *models.OpportunityRecord) error
	PatchFederalFields(ctx context.Context, id uuid.UUID, status string, deadlineAt *time.Time, deadlineDisplay, contentHash string) error
	SetFocusAreas(ctx context.Context, oppID uuid.UUID, slugs []string) error

	CloseExpired(ctx context.Context, asOf time.Time) (int64, error)
	MarkClosingSoon(ctx context.Context, asOf, cutoff time.Time) (int64, error)

	ActiveVerifiedWithURL(ctx context.Context) ([]models.OpportunityRecord, error)
	Quarantine(ctx context.Context, id uuid.UUID, note string) error
	TouchOpportunity(ctx context.Context, id uuid.UUID) error

	FeaturedCandidates(ctx context.Context) ([]models.FeaturedCandidate, error)
	ClearFeatured(ctx context.Context) error
	SetFeatured(ctx context.Context, ids []uuid.UUID) error

	BeginRun(ctx context.Context) (uuid.UUID, error)
	CompleteRun(ctx context.Context, sum *models.RunSummary) error
}

// RunContext carries per-run state through the pipeline stages. Nothing in
// it outlives the run; there are no package-level mutable caches.
type RunContext struct {
	Now  time.Time
	Rand *rand.Rand

	// Slugs inserted during this run, so two candidates that slugify
	// identically within one batch reconcile instead of colliding.
	SeenSlugs map[string]bool
}

// NewRunContext seeds a run with a wall clock and a jitter source.
func NewRunContext(now time.Time, rng *rand.Rand) *RunContext {
	return &RunContext{
		Now:       now,
		Rand:      rng,
		SeenSlugs: make(map[string]bool),
	}
}
