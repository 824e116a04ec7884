package ingest

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// containerClassKeywords mark elements whose class attribute suggests an
// opportunity listing block.
var containerClassKeywords = []string{"grant", "opportunity", "funding", "program", "award"}

// grantKeywords decide whether a text block "looks like a grant". A block is
// accepted when at least KeywordThreshold of these appear.
var grantKeywords = []string{
	"grant", "funding", "award", "fellowship", "prize",
	"scholarship", "application", "deadline", "eligible", "apply",
}

var closedKeywords = []string{
	"closed", "no longer accepting", "not currently accepting", "applications closed",
}

var upcomingKeywords = []string{
	"coming soon", "upcoming", "opens in", "will open", "forthcoming",
}

// orgTypeDict maps page phrasing to internal org-type tags.
var orgTypeDict = []struct {
	keywords []string
	tag      string
}{
	{[]string{"501(c)(3)", "501c3", "nonprofit", "non-profit"}, "501c3"},
	{[]string{"municipalit", "government", "public agenc", "tribal"}, "government"},
	{[]string{"individual", "artists", "researchers"}, "individual"},
	{[]string{"school", "university", "college", "educational institution"}, "education"},
}

// geographyDict maps page phrasing to geography tags; US is the default when
// nothing matches.
var geographyDict = []struct {
	keywords []string
	tag      string
}{
	{[]string{"global", "international", "worldwide"}, "Global"},
	{[]string{"statewide", "state of"}, "State"},
	{[]string{"city of", "county", "local community", "local organizations"}, "Local"},
}

var opportunityTypeDict = []struct {
	keyword string
	tag     string
}{
	{"fellowship", "fellowship"},
	{"scholarship", "scholarship"},
	{"prize", "prize"},
}

// amountPattern matches dollar amounts with optional K/M/B suffixes and
// ranges ("$5,000 - $25,000", "$1.5M", "up to $50K").
var amountPattern = regexp.MustCompile(`(?i)\$\s?\d[\d,]*(?:\.\d+)?\s?(?:thousand|million|billion|[kmb])?(?:\s?(?:-|–|to)\s?\$?\s?\d[\d,]*(?:\.\d+)?\s?(?:thousand|million|billion|[kmb])?)?`)

var amountNumberPattern = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)\s?(thousand|million|billion|[kmb])?`)

// datePatterns are tried in order: deadline-keyword-proximate dates first,
// then bare dates. The first match wins.
var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:deadline|due|closes?|apply by|applications? (?:due|close|accepted until)|submit by)[^.\n]{0,60}?([A-Z][a-z]+\.? \d{1,2},? \d{4})`),
	regexp.MustCompile(`(?i)(?:deadline|due|closes?|apply by|submit by)[^.\n]{0,60}?(\d{1,2}/\d{1,2}/\d{4})`),
	regexp.MustCompile(`([A-Z][a-z]+\.? \d{1,2},? \d{4})`),
	regexp.MustCompile(`(\d{1,2}/\d{1,2}/\d{4})`),
	regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`),
}

var dateLayouts = []string{
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan. 2, 2006",
	"2 January 2006",
	"01/02/2006",
	"1/2/2006",
	"2006-01-02",
}

// parseCandidateDate parses a display date into an end-of-day UTC timestamp.
func parseCandidateDate(s string) *time.Time {
	s = normalizeSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			eod := toEndOfDay(t)
			return &eod
		}
	}
	return nil
}

// toEndOfDay pins a date-only value to 23:59:59 UTC so same-day deadlines
// stay open through the day.
func toEndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC)
}

// extractDeadline finds the first deadline-looking date in text. Returns the
// display string and the normalized date; "Rolling" with a nil date when the
// text signals a rolling window instead.
func extractDeadline(text string) (string, *time.Time) {
	for _, p := range datePatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			display := normalizeSpace(m[1])
			return display, parseCandidateDate(display)
		}
	}
	if strings.Contains(strings.ToLower(text), "rolling") {
		return "Rolling", nil
	}
	return "", nil
}

// extractAmount returns the first dollar amount in text as a display string
// plus parsed min/max bounds.
func extractAmount(text string) (string, float64, float64) {
	display := normalizeSpace(amountPattern.FindString(text))
	if display == "" {
		return "", 0, 0
	}
	amountMin, amountMax := parseAmountRange(display)
	return display, amountMin, amountMax
}

// parseAmountRange parses a display amount into numeric bounds. A single
// value is treated as the maximum; two values become a sorted range.
func parseAmountRange(display string) (float64, float64) {
	matches := amountNumberPattern.FindAllStringSubmatch(display, 2)
	var amounts []float64
	for _, m := range matches {
		clean := strings.ReplaceAll(m[1], ",", "")
		val, err := strconv.ParseFloat(clean, 64)
		if err != nil || val <= 0 {
			continue
		}
		switch strings.ToLower(m[2]) {
		case "k", "thousand":
			val *= 1_000
		case "m", "million":
			val *= 1_000_000
		case "b", "billion":
			val *= 1_000_000_000
		}
		amounts = append(amounts, val)
	}

	switch len(amounts) {
	case 0:
		return 0, 0
	case 1:
		return 0, amounts[0]
	default:
		if amounts[0] > amounts[1] {
			amounts[0], amounts[1] = amounts[1], amounts[0]
		}
		return amounts[0], amounts[1]
	}
}

// countGrantKeywords reports how many distinct grant keywords appear.
func countGrantKeywords(text string) int {
	lower := strings.ToLower(text)
	count := 0
	for _, kw := range grantKeywords {
		if strings.Contains(lower, kw) {
			count++
		}
	}
	return count
}

// deriveStatus defaults to open unless the text carries explicit
// closed/upcoming language.
func deriveStatus(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range closedKeywords {
		if strings.Contains(lower, kw) {
			return "closed"
		}
	}
	for _, kw := range upcomingKeywords {
		if strings.Contains(lower, kw) {
			return "upcoming"
		}
	}
	return "open"
}

func deriveOrgTypes(text string) []string {
	lower := strings.ToLower(text)
	var tags []string
	for _, entry := range orgTypeDict {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				tags = appendUnique(tags, entry.tag)
				break
			}
		}
	}
	return tags
}

func deriveGeographies(text string) []string {
	lower := strings.ToLower(text)
	var tags []string
	for _, entry := range geographyDict {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				tags = appendUnique(tags, entry.tag)
				break
			}
		}
	}
	if len(tags) == 0 {
		tags = []string{"US"}
	}
	return tags
}

func deriveOpportunityType(text string) string {
	lower := strings.ToLower(text)
	for _, entry := range opportunityTypeDict {
		if strings.Contains(lower, entry.keyword) {
			return entry.tag
		}
	}
	return "grant"
}
