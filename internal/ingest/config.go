package ingest

import "time"

// Tunables shared across the pipeline. The similarity and keyword thresholds
// were tuned empirically; the registry can override them per funder.
const (
	// DefaultSimilarityThreshold is the minimum word-level Jaccard score
	// for the matcher to treat a candidate as an existing record.
	DefaultSimilarityThreshold = 0.70

	// DefaultKeywordThreshold is how many grant keywords a text block must
	// contain before the parser accepts it as an opportunity.
	DefaultKeywordThreshold = 2

	// MaxSlugTitleChars bounds the title material in a derived slug.
	MaxSlugTitleChars = 72

	// FirstTimeAwardCeiling is the max award for a moderate-complexity
	// opportunity to still count as first-time-friendly.
	FirstTimeAwardCeiling = 50000

	// FeaturedTargetCount is how many records the selector flags.
	FeaturedTargetCount = 6

	// ClosingSoonDays is the deadline window for the closing_soon status.
	ClosingSoonDays = 14

	UserAgent = "fundscout/1.3 (+https://fundscout.org/bot)"

	PageFetchTimeout   = 30 * time.Second
	DetailFetchTimeout = 15 * time.Second
	LinkCheckTimeout   = 15 * time.Second

	// LinkCheckBatchSize concurrent checks per batch, with LinkCheckPause
	// between batches.
	LinkCheckBatchSize = 10
	LinkCheckPause     = 1 * time.Second

	// CategoryDelay between federal category queries.
	CategoryDelay = 2 * time.Second
)
