package models

import (
	"time"

	"github.com/google/uuid"
)

// Lifecycle statuses for an opportunity. Transitions flow
// open -> closing_soon -> closed and upcoming -> open; a closed record is
// never reopened automatically, only by fresh ingestion producing a changed
// content hash (or by a human reviewer, outside this engine).
const (
	StatusOpen        = "open"
	StatusClosingSoon = "closing_soon"
	StatusClosed      = "closed"
	StatusUpcoming    = "upcoming"
	StatusUnknown     = "unknown"
)

// FunderSource is a funding organization configured for automated ingestion.
// The engine treats it as read-only except for LastCheckedAt.
type FunderSource struct {
	ID            uuid.UUID         `json:"id"`
	Slug          string            `json:"slug"`
	Name          string            `json:"name"`
	FunderType    string            `json:"funder_type"` // Government, Foundation, Corporate, Multilateral
	PageURL       string            `json:"page_url"`
	SelectorHints map[string]string `json:"selector_hints"` // advisory, not authoritative
	LastCheckedAt *time.Time        `json:"last_checked_at"`
}

// OpportunityRecord is the canonical persisted opportunity entity.
type OpportunityRecord struct {
	ID              uuid.UUID  `json:"id"`
	Slug            string     `json:"slug"`
	FunderID        uuid.UUID  `json:"funder_id"`
	Title           string     `json:"title"`
	Summary         string     `json:"summary"`
	AmountDisplay   string     `json:"amount_display"`
	DeadlineDisplay string     `json:"deadline_display"`
	DeadlineAt      *time.Time `json:"deadline_at"`
	ApplicationURL  string     `json:"application_url"`
	SourceURL       string     `json:"source_url"` // provenance URL, dedup key for API-sourced records
	Status          string     `json:"status"`
	OpportunityType string     `json:"opportunity_type"` // grant, fellowship, prize, scholarship
	OrgTypes        []string   `json:"org_types"`
	Geographies     []string   `json:"geographies"`
	FocusAreas      []string   `json:"focus_areas"`
	AmountMin       float64    `json:"amount_min"`
	AmountMax       float64    `json:"amount_max"`
	ExpectedAwards  int        `json:"expected_awards"`
	Complexity      string     `json:"complexity"` // simple, moderate, complex
	RequiresLOI     bool       `json:"requires_loi"`
	ContentHash     string     `json:"content_hash"`
	Verified        bool       `json:"verified"`
	Featured        bool       `json:"featured"`
	ReviewNote      string     `json:"review_note"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Active reports whether the record is in a user-visible lifecycle state.
func (o *OpportunityRecord) Active() bool {
	switch o.Status {
	case StatusOpen, StatusClosingSoon, StatusUpcoming:
		return true
	}
	return false
}

// FeaturedCandidate is an opportunity joined with the funder attributes the
// featured selector diversifies on.
type FeaturedCandidate struct {
	OpportunityRecord
	FunderSlug string `json:"funder_slug"`
	FunderType string `json:"funder_type"`
}

// RunSummary is the outcome of one pipeline run, persisted for operators and
// returned by the trigger API. Errors are accumulated strings; no individual
// funder or category failure aborts a run.
type RunSummary struct {
	RunID          uuid.UUID     `json:"run_id"`
	FundersChecked int           `json:"funders_checked"`
	NewRecords     int           `json:"new_records"`
	UpdatedRecords int           `json:"updated_records"`
	Errors         []string      `json:"errors"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}
