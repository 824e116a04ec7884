package ingest

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/fundscout/fundscout/internal/logger"
	"github.com/fundscout/fundscout/internal/models"
	"github.com/google/uuid"
)

func featuredFixture(title, funderType string, deadline *time.Time, createdAt time.Time) models.FeaturedCandidate {
	return models.FeaturedCandidate{
		OpportunityRecord: models.OpportunityRecord{
			ID:         uuid.New(),
			Title:      title,
			Status:     models.StatusOpen,
			DeadlineAt: deadline,
			CreatedAt:  createdAt,
		},
		FunderType: funderType,
	}
}

func TestScoreCandidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, -6, 0)

	tests := []struct {
		name string
		c    models.FeaturedCandidate
		want float64
	}{
		{
			"past deadline disqualifies",
			featuredFixture("a", "private", deadlinePtr(now.AddDate(0, 0, -1)), old),
			-100,
		},
		{
			"deadline within 60 days",
			featuredFixture("b", "private", deadlinePtr(now.AddDate(0, 0, 45)), old),
			30,
		},
		{
			"deadline within 30 days stacks",
			featuredFixture("c", "private", deadlinePtr(now.AddDate(0, 0, 20)), old),
			45,
		},
		{
			"recently added",
			featuredFixture("d", "private", nil, now.AddDate(0, 0, -5)),
			20,
		},
		{
			"no signals",
			featuredFixture("e", "private", nil, old),
			0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScoreCandidate(&tt.c, now, 0); got != tt.want {
				t.Errorf("score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScoreCandidateRollingAndFirstTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c := featuredFixture("rolling", "private", nil, now.AddDate(0, -6, 0))
	c.DeadlineDisplay = "Rolling"
	c.Complexity = "simple"

	if got := ScoreCandidate(&c, now, 0); got != 20 {
		t.Fatalf("rolling + first-time-friendly score = %v, want 20", got)
	}
}

func TestFirstTimeFriendly(t *testing.T) {
	tests := []struct {
		name string
		o    models.OpportunityRecord
		want bool
	}{
		{"simple", models.OpportunityRecord{Complexity: "simple"}, true},
		{"simple with loi", models.OpportunityRecord{Complexity: "simple", RequiresLOI: true}, true},
		{"moderate small award", models.OpportunityRecord{Complexity: "moderate", AmountMax: 50000}, true},
		{"moderate large award", models.OpportunityRecord{Complexity: "moderate", AmountMax: 100000}, false},
		{"moderate no amount", models.OpportunityRecord{Complexity: "moderate"}, false},
		{"moderate with loi", models.OpportunityRecord{Complexity: "moderate", AmountMax: 20000, RequiresLOI: true}, false},
		{"complex", models.OpportunityRecord{Complexity: "complex", AmountMax: 1000}, false},
		{"unknown", models.OpportunityRecord{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FirstTimeFriendly(&tt.o); got != tt.want {
				t.Errorf("FirstTimeFriendly = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelectFeaturedExcludesPastDeadlines(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	candidates := []models.FeaturedCandidate{
		featuredFixture("expired", "private", deadlinePtr(now.AddDate(0, 0, -3)), now.AddDate(0, 0, -2)),
		featuredFixture("current", "private", deadlinePtr(now.AddDate(0, 0, 20)), now.AddDate(0, -6, 0)),
	}

	selected := SelectFeatured(candidates, now, rand.New(rand.NewSource(7)))
	if len(selected) != 1 || selected[0].Title != "current" {
		t.Fatalf("selected = %v", titles(selected))
	}
}

func TestSelectFeaturedFewerThanTargetReturnsAll(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var candidates []models.FeaturedCandidate
	for i := 0; i < 4; i++ {
		candidates = append(candidates, featuredFixture("c", "private", deadlinePtr(now.AddDate(0, 0, 10+i)), now.AddDate(0, -6, 0)))
	}

	selected := SelectFeatured(candidates, now, rand.New(rand.NewSource(7)))
	if len(selected) != 4 {
		t.Fatalf("got %d selected, want all 4 viable candidates", len(selected))
	}
}

func TestSelectFeaturedCapsAtTarget(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var candidates []models.FeaturedCandidate
	for i := 0; i < 20; i++ {
		candidates = append(candidates, featuredFixture("c", "private", deadlinePtr(now.AddDate(0, 0, 10+i)), now.AddDate(0, -6, 0)))
	}

	selected := SelectFeatured(candidates, now, rand.New(rand.NewSource(7)))
	if len(selected) != FeaturedTargetCount {
		t.Fatalf("got %d selected, want %d", len(selected), FeaturedTargetCount)
	}
}

func TestSelectFeaturedDeterministicWithSeededRand(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var candidates []models.FeaturedCandidate
	for i := 0; i < 12; i++ {
		candidates = append(candidates, featuredFixture("c", "private", deadlinePtr(now.AddDate(0, 0, 5+i*7)), now.AddDate(0, -6, 0)))
	}

	a := SelectFeatured(candidates, now, rand.New(rand.NewSource(42)))
	b := SelectFeatured(candidates, now, rand.New(rand.NewSource(42)))
	if len(a) != len(b) {
		t.Fatalf("selection sizes differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Fatal("same seed must reproduce the same selection")
		}
	}
}

func TestSelectFeaturedPrefersUnseenFunderType(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, -6, 0)

	// Seven private foundations with near deadlines outscore one government
	// funder with a far deadline, but diversity should pull it in anyway.
	var candidates []models.FeaturedCandidate
	for i := 0; i < 7; i++ {
		candidates = append(candidates, featuredFixture("private", "private", deadlinePtr(now.AddDate(0, 0, 10+i)), old))
	}
	gov := featuredFixture("government", "government", deadlinePtr(now.AddDate(0, 0, 120)), old)
	candidates = append(candidates, gov)

	selected := SelectFeatured(candidates, now, rand.New(rand.NewSource(3)))
	if len(selected) != FeaturedTargetCount {
		t.Fatalf("got %d selected, want %d", len(selected), FeaturedTargetCount)
	}
	var sawGov bool
	for _, c := range selected {
		if c.ID == gov.ID {
			sawGov = true
		}
	}
	if !sawGov {
		t.Fatal("sole government funder with a positive score was not pulled in by diversity")
	}
}

func TestSelectFeaturedSwapsInFirstTimeFriendly(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, -6, 0)

	var candidates []models.FeaturedCandidate
	for i := 0; i < 8; i++ {
		c := featuredFixture("complex", "private", deadlinePtr(now.AddDate(0, 0, 10+i)), old)
		c.Complexity = "complex"
		candidates = append(candidates, c)
	}
	friendly := featuredFixture("friendly", "private", deadlinePtr(now.AddDate(0, 0, 120)), old)
	friendly.Complexity = "simple"
	candidates = append(candidates, friendly)

	selected := SelectFeatured(candidates, now, rand.New(rand.NewSource(9)))
	var sawFriendly bool
	for _, c := range selected {
		if c.ID == friendly.ID {
			sawFriendly = true
		}
	}
	if !sawFriendly {
		t.Fatal("no first-time-friendly candidate in the final selection")
	}
}

func TestFeaturedRunReplacesFlags(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	keep := featuredFixture("keep", "private", deadlinePtr(now.AddDate(0, 0, 20)), now.AddDate(0, -6, 0))
	store.featuredCandidates = []models.FeaturedCandidate{keep}
	store.featuredIDs = []uuid.UUID{uuid.New()} // stale flag from a previous run

	s := NewFeaturedSelector(store, logger.Nop())
	selected, err := s.Run(context.Background(), now, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if selected != 1 {
		t.Fatalf("selected = %d, want 1", selected)
	}
	if store.clearedRuns != 1 {
		t.Fatalf("flags cleared %d times, want 1", store.clearedRuns)
	}
	if len(store.featuredIDs) != 1 || store.featuredIDs[0] != keep.ID {
		t.Fatalf("featured ids = %v, want just the new selection", store.featuredIDs)
	}
}

func titles(cs []models.FeaturedCandidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Title
	}
	return out
}
