package ingest

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/fundscout/fundscout/internal/logger"
	"github.com/fundscout/fundscout/internal/models"
	"github.com/google/uuid"
)

// FeaturedSelector picks the handful of records highlighted to end users.
// Full-replace semantics: every run clears all flags before applying the
// new set, so stale featured records cannot accumulate.
type FeaturedSelector struct {
	store Store
	log   logger.Logger
}

func NewFeaturedSelector(store Store, log logger.Logger) *FeaturedSelector {
	return &FeaturedSelector{store: store, log: log}
}

type scoredCandidate struct {
	models.FeaturedCandidate
	score float64
}

// Run clears the featured flags, scores the active verified population and
// flags the selected ids in one batch update.
func (s *FeaturedSelector) Run(ctx context.Context, now time.Time, rng *rand.Rand) (int, error) {
	if err := s.store.ClearFeatured(ctx); err != nil {
		return 0, err
	}

	candidates, err := s.store.FeaturedCandidates(ctx)
	if err != nil {
		return 0, err
	}

	selected := SelectFeatured(candidates, now, rng)
	ids := make([]uuid.UUID, len(selected))
	for i, c := range selected {
		ids[i] = c.ID
	}

	if err := s.store.SetFeatured(ctx, ids); err != nil {
		return 0, err
	}

	s.log.Info("featured selection", logger.Int("selected", len(ids)))
	return len(ids), nil
}

// SelectFeatured scores and greedily picks up to FeaturedTargetCount
// candidates with soft funder-type and focus-area diversity.
func SelectFeatured(candidates []models.FeaturedCandidate, now time.Time, rng *rand.Rand) []models.FeaturedCandidate {
	var scored []scoredCandidate
	for _, c := range candidates {
		score := ScoreCandidate(&c, now, rng.Float64()*15)
		if score <= 0 {
			continue
		}
		scored = append(scored, scoredCandidate{FeaturedCandidate: c, score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	selected := pickDiverse(scored, FeaturedTargetCount)
	selected = ensureFirstTimeFriendly(selected, scored)

	out := make([]models.FeaturedCandidate, len(selected))
	for i, c := range selected {
		out[i] = c.FeaturedCandidate
	}
	return out
}

// ScoreCandidate applies the fixed scoring rules plus the caller-supplied
// jitter. A past deadline is disqualifying.
func ScoreCandidate(c *models.FeaturedCandidate, now time.Time, jitter float64) float64 {
	score := jitter

	if c.DeadlineAt != nil {
		if c.DeadlineAt.Before(now) {
			return -100
		}
		days := c.DeadlineAt.Sub(now).Hours() / 24
		if days <= 60 {
			score += 30
		}
		if days <= 30 {
			score += 15
		}
	}

	if isRolling(c.DeadlineDisplay) {
		score += 10
	}
	if now.Sub(c.CreatedAt) <= 14*24*time.Hour {
		score += 20
	}
	if FirstTimeFriendly(&c.OpportunityRecord) {
		score += 10
	}

	return score
}

// FirstTimeFriendly: simple applications, or moderate ones with a small
// award and no letter-of-intent gate.
func FirstTimeFriendly(o *models.OpportunityRecord) bool {
	switch o.Complexity {
	case "simple":
		return true
	case "moderate":
		return o.AmountMax > 0 && o.AmountMax <= FirstTimeAwardCeiling && !o.RequiresLOI
	}
	return false
}

func isRolling(deadlineDisplay string) bool {
	lower := strings.ToLower(deadlineDisplay)
	return strings.Contains(lower, "rolling") || strings.Contains(lower, "continuous") || strings.Contains(lower, "ongoing")
}

// pickDiverse fills the target greedily: the first two slots take the top
// scores unconditionally, later slots prefer candidates introducing an
// unseen funder type or focus area, then backfill by score.
func pickDiverse(scored []scoredCandidate, target int) []scoredCandidate {
	if len(scored) <= target {
		return append([]scoredCandidate(nil), scored...)
	}

	var selected []scoredCandidate
	taken := make(map[int]bool)
	seenFunderTypes := make(map[string]bool)
	seenFocusAreas := make(map[string]bool)

	take := func(i int) {
		taken[i] = true
		selected = append(selected, scored[i])
		seenFunderTypes[scored[i].FunderType] = true
		for _, fa := range scored[i].FocusAreas {
			seenFocusAreas[fa] = true
		}
	}

	for i := 0; i < 2; i++ {
		take(i)
	}

	for len(selected) < target {
		picked := -1
		for i := range scored {
			if taken[i] {
				continue
			}
			if !seenFunderTypes[scored[i].FunderType] || introducesFocusArea(scored[i].FocusAreas, seenFocusAreas) {
				picked = i
				break
			}
		}
		if picked < 0 {
			// Diversity candidates ran out; backfill by score.
			for i := range scored {
				if !taken[i] {
					picked = i
					break
				}
			}
		}
		if picked < 0 {
			break
		}
		take(picked)
	}

	return selected
}

func introducesFocusArea(areas []string, seen map[string]bool) bool {
	for _, a := range areas {
		if !seen[a] {
			return true
		}
	}
	return false
}

// ensureFirstTimeFriendly swaps the lowest-scoring pick for the best
// unselected first-time-friendly candidate when none made the cut.
func ensureFirstTimeFriendly(selected, scored []scoredCandidate) []scoredCandidate {
	if len(selected) == 0 {
		return selected
	}
	for _, c := range selected {
		if FirstTimeFriendly(&c.OpportunityRecord) {
			return selected
		}
	}

	selectedIDs := make(map[uuid.UUID]bool, len(selected))
	for _, c := range selected {
		selectedIDs[c.ID] = true
	}

	for _, c := range scored {
		if selectedIDs[c.ID] || !FirstTimeFriendly(&c.OpportunityRecord) {
			continue
		}
		lowest := 0
		for i := range selected {
			if selected[i].score < selected[lowest].score {
				lowest = i
			}
		}
		selected[lowest] = c
		return selected
	}
	return selected
}
