package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/fundscout/fundscout/internal/db"
	"github.com/fundscout/fundscout/internal/logger"
	"github.com/fundscout/fundscout/internal/models"
	"github.com/google/uuid"
)

// NormalizeTitle lowercases, strips non-alphanumerics and collapses
// whitespace so matching ignores case and punctuation.
func NormalizeTitle(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return normalizeSpace(b.String())
}

// TitleSimilarity is word-level Jaccard over the normalized titles.
func TitleSimilarity(a, b string) float64 {
	wordsA := strings.Fields(NormalizeTitle(a))
	wordsB := strings.Fields(NormalizeTitle(b))
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(wordsA))
	for _, w := range wordsA {
		setA[w] = true
	}
	setB := make(map[string]bool, len(wordsB))
	for _, w := range wordsB {
		setB[w] = true
	}

	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection

	return float64(intersection) / float64(union)
}

// ContentHash digests the mutable presentation fields of an HTML-sourced
// candidate for change detection.
func ContentHash(title, summary, amountDisplay, deadlineDisplay, status string) string {
	h := sha256.Sum256([]byte(strings.Join([]string{
		title, summary, amountDisplay, deadlineDisplay, status,
	}, "|")))
	return hex.EncodeToString(h[:])
}

// FederalContentHash digests the fields the federal refresh watches.
func FederalContentHash(title, closeDate, oppStatus string) string {
	h := sha256.Sum256([]byte(title + "|" + closeDate + "|" + oppStatus))
	return hex.EncodeToString(h[:])
}

// DeriveSlug builds the globally unique record slug from the funder slug and
// a bounded amount of title material.
func DeriveSlug(funderSlug, title string) string {
	titleSlug := truncate(slugify(title), MaxSlugTitleChars)
	titleSlug = strings.Trim(titleSlug, "-")
	if titleSlug == "" {
		return funderSlug
	}
	return funderSlug + "-" + titleSlug
}

// Matcher reconciles parsed candidates against a funder's existing records.
type Matcher struct {
	store     Store
	log       logger.Logger
	threshold float64
}

func NewMatcher(store Store, log logger.Logger, threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Matcher{store: store, log: log, threshold: threshold}
}

// Reconcile decides new-insert vs. update vs. no-change for each candidate.
// Newly inserted records join the comparison set so duplicates within one
// batch reconcile instead of double-inserting.
func (m *Matcher) Reconcile(ctx context.Context, run *RunContext, funderID uuid.UUID, funderSlug string, candidates []Candidate) (newCount, updatedCount int, err error) {
	existing, err := m.store.OpportunitiesByFunder(ctx, funderID)
	if err != nil {
		return 0, 0, fmt.Errorf("load existing records: %w", err)
	}

	for _, c := range candidates {
		match := m.bestMatch(c.Title, existing)
		hash := ContentHash(c.Title, c.Summary, c.AmountDisplay, c.DeadlineDisplay, c.Status)

		if match != nil {
			if match.ContentHash == hash {
				continue
			}
			match.Summary = c.Summary
			match.AmountDisplay = c.AmountDisplay
			match.DeadlineDisplay = c.DeadlineDisplay
			match.DeadlineAt = c.DeadlineAt
			match.ApplicationURL = c.ApplicationURL
			match.Status = c.Status
			match.ContentHash = hash
			if err := m.store.UpdateOpportunity(ctx, match); err != nil {
				return newCount, updatedCount, err
			}
			updatedCount++
			continue
		}

		slug := DeriveSlug(funderSlug, c.Title)
		if run != nil && run.SeenSlugs[slug] {
			m.log.Debug("duplicate slug within run, dropping candidate",
				logger.String("slug", slug))
			continue
		}

		record := &models.OpportunityRecord{
			Slug:            slug,
			FunderID:        funderID,
			Title:           c.Title,
			Summary:         c.Summary,
			AmountDisplay:   c.AmountDisplay,
			DeadlineDisplay: c.DeadlineDisplay,
			DeadlineAt:      c.DeadlineAt,
			ApplicationURL:  c.ApplicationURL,
			SourceURL:       c.SourceURL,
			Status:          c.Status,
			OpportunityType: c.OpportunityType,
			OrgTypes:        c.OrgTypes,
			Geographies:     c.Geographies,
			FocusAreas:      c.FocusAreas,
			AmountMin:       c.AmountMin,
			AmountMax:       c.AmountMax,
			ExpectedAwards:  c.ExpectedAwards,
			Complexity:      c.Complexity,
			RequiresLOI:     c.RequiresLOI,
			ContentHash:     hash,
			Verified:        c.Verified,
		}

		insertErr := m.store.InsertOpportunity(ctx, record)
		if errors.Is(insertErr, db.ErrDuplicate) {
			// Concurrent or duplicate run beat us to it. Benign.
			m.log.Debug("insert conflict, dropping candidate", logger.String("slug", slug))
			continue
		}
		if insertErr != nil {
			return newCount, updatedCount, insertErr
		}

		if run != nil {
			run.SeenSlugs[slug] = true
		}
		existing = append(existing, *record)
		newCount++
	}

	return newCount, updatedCount, nil
}

// bestMatch returns the existing record with the highest title similarity at
// or above the threshold. Ties resolve to the first maximum.
func (m *Matcher) bestMatch(title string, existing []models.OpportunityRecord) *models.OpportunityRecord {
	bestScore := 0.0
	bestIdx := -1
	for i := range existing {
		score := TitleSimilarity(title, existing[i].Title)
		if score >= m.threshold && score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return nil
	}
	return &existing[bestIdx]
}
