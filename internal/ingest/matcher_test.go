package ingest

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/fundscout/fundscout/internal/logger"
	"github.com/google/uuid"
)

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Community Innovation Grant 2026", "community innovation grant 2026"},
		{"  Arts & Culture: Fund!  ", "arts culture fund"},
		{"ALL-CAPS   TITLE", "all caps title"},
	}
	for _, tt := range tests {
		if got := NormalizeTitle(tt.in); got != tt.want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTitleSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical after normalization", "Community Innovation Grant 2026", "community innovation grant 2026", 1.0},
		{"disjoint word sets", "Arts Fund", "Youth Fund", 1.0 / 3.0},
		{"empty", "", "Arts Fund", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TitleSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 0.0001 || diff < -0.0001 {
				t.Errorf("TitleSimilarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestTitleSimilarityBelowThresholdNeverMatches(t *testing.T) {
	if sim := TitleSimilarity("Arts Fund", "Youth Fund"); sim >= DefaultSimilarityThreshold {
		t.Fatalf("similarity %v should be below threshold %v", sim, DefaultSimilarityThreshold)
	}
}

func TestContentHashChangeDetection(t *testing.T) {
	base := ContentHash("Title", "Summary", "$5,000", "March 1, 2026", "open")

	same := ContentHash("Title", "Summary", "$5,000", "March 1, 2026", "open")
	if base != same {
		t.Fatal("identical fields must produce identical hashes")
	}

	changed := ContentHash("Title", "Summary", "$10,000", "March 1, 2026", "open")
	if base == changed {
		t.Fatal("changing amount_display alone must change the hash")
	}
}

func TestDeriveSlug(t *testing.T) {
	tests := []struct {
		name       string
		funderSlug string
		title      string
		want       string
	}{
		{"basic", "ford-foundation", "Community Grant", "ford-foundation-community-grant"},
		{"punctuation stripped", "ford-foundation", "Arts & Culture: 2026!", "ford-foundation-arts-culture-2026"},
		{"empty title", "ford-foundation", "!!!", "ford-foundation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveSlug(tt.funderSlug, tt.title); got != tt.want {
				t.Errorf("DeriveSlug(%q, %q) = %q, want %q", tt.funderSlug, tt.title, got, tt.want)
			}
		})
	}
}

func TestDeriveSlugTruncation(t *testing.T) {
	long := strings.Repeat("word ", 40)
	slug := DeriveSlug("funder", long)

	titlePart := strings.TrimPrefix(slug, "funder-")
	if len(titlePart) > MaxSlugTitleChars {
		t.Fatalf("title material %d chars exceeds limit %d", len(titlePart), MaxSlugTitleChars)
	}
	if strings.HasSuffix(slug, "-") {
		t.Fatalf("slug %q has a trailing separator", slug)
	}
}

func TestDeriveSlugMultibyteTitle(t *testing.T) {
	title := "a" + strings.Repeat("é", 80)
	slug := DeriveSlug("funder", title)

	if !utf8.ValidString(slug) {
		t.Fatalf("slug %q is not valid UTF-8", slug)
	}
	titlePart := strings.TrimPrefix(slug, "funder-")
	if len(titlePart) > MaxSlugTitleChars {
		t.Fatalf("title material %d bytes exceeds limit %d", len(titlePart), MaxSlugTitleChars)
	}
	if strings.HasSuffix(slug, "-") {
		t.Fatalf("slug %q has a trailing separator", slug)
	}
}

func newTestMatcher(store Store) *Matcher {
	return NewMatcher(store, logger.Nop(), 0)
}

func testRunContext() *RunContext {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return NewRunContext(now, rand.New(rand.NewSource(1)))
}

func TestReconcileInsertsNewCandidate(t *testing.T) {
	store := newFakeStore()
	m := newTestMatcher(store)
	funderID := uuid.New()

	newCount, updatedCount, err := m.Reconcile(context.Background(), testRunContext(), funderID, "ford-foundation", []Candidate{
		{Title: "Community Innovation Grant", Status: "open"},
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if newCount != 1 || updatedCount != 0 {
		t.Fatalf("got new=%d updated=%d, want 1/0", newCount, updatedCount)
	}
	if store.opps[0].Verified {
		t.Fatal("HTML-sourced inserts must not be pre-verified")
	}
	if store.opps[0].Slug != "ford-foundation-community-innovation-grant" {
		t.Fatalf("unexpected slug %q", store.opps[0].Slug)
	}
}

func TestReconcileMatchesAndPatchesOnHashChange(t *testing.T) {
	store := newFakeStore()
	m := newTestMatcher(store)
	funderID := uuid.New()
	run := testRunContext()

	first := []Candidate{{Title: "Community Innovation Grant 2026", Summary: "Old", Status: "open"}}
	if _, _, err := m.Reconcile(context.Background(), run, funderID, "ford", first); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	// Case-differing title, changed summary: should update, not insert.
	second := []Candidate{{Title: "community innovation grant 2026", Summary: "New", Status: "open"}}
	newCount, updatedCount, err := m.Reconcile(context.Background(), testRunContext(), funderID, "ford", second)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if newCount != 0 || updatedCount != 1 {
		t.Fatalf("got new=%d updated=%d, want 0/1", newCount, updatedCount)
	}
	if store.opps[0].Summary != "New" {
		t.Fatalf("summary not patched: %q", store.opps[0].Summary)
	}
	if len(store.opps) != 1 {
		t.Fatalf("expected a single record, got %d", len(store.opps))
	}
}

func TestReconcileUnchangedHashIsNoop(t *testing.T) {
	store := newFakeStore()
	m := newTestMatcher(store)
	funderID := uuid.New()

	batch := []Candidate{{Title: "Community Innovation Grant", Summary: "Same", Status: "open"}}
	if _, _, err := m.Reconcile(context.Background(), testRunContext(), funderID, "ford", batch); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	newCount, updatedCount, err := m.Reconcile(context.Background(), testRunContext(), funderID, "ford", batch)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if newCount != 0 || updatedCount != 0 {
		t.Fatalf("re-run with no changes: got new=%d updated=%d, want 0/0", newCount, updatedCount)
	}
	if store.updates != 0 {
		t.Fatalf("store saw %d updates, want 0", store.updates)
	}
}

func TestReconcileDuplicateWithinBatchUpdatesNotInserts(t *testing.T) {
	store := newFakeStore()
	m := newTestMatcher(store)
	funderID := uuid.New()

	batch := []Candidate{
		{Title: "Community Innovation Grant", Summary: "First copy", Status: "open"},
		{Title: "Community Innovation Grant", Summary: "Second copy", Status: "open"},
	}
	newCount, updatedCount, err := m.Reconcile(context.Background(), testRunContext(), funderID, "ford", batch)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if newCount != 1 {
		t.Fatalf("got %d inserts, want 1", newCount)
	}
	if updatedCount != 1 {
		t.Fatalf("second identical-title candidate should update, got updated=%d", updatedCount)
	}
	if len(store.opps) != 1 {
		t.Fatalf("expected a single record, got %d", len(store.opps))
	}
}
