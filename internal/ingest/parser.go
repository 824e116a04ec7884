package ingest

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractionStrategy turns a parsed page into candidates. Strategies are
// tried in order; the first one yielding at least one candidate wins.
type ExtractionStrategy interface {
	Name() string
	Extract(doc *goquery.Document, baseURL string) []Candidate
}

// Parser runs the strategy chain over one funder page. Extraction is pure:
// the same HTML always yields the same candidates, and zero candidates is a
// legitimate outcome.
type Parser struct {
	strategies []ExtractionStrategy
}

// NewParser builds the default chain: class/list block extraction with a
// heading-window fallback.
func NewParser(keywordThreshold int) *Parser {
	if keywordThreshold <= 0 {
		keywordThreshold = DefaultKeywordThreshold
	}
	return &Parser{
		strategies: []ExtractionStrategy{
			&BlockStrategy{KeywordThreshold: keywordThreshold},
			&HeadingWindowStrategy{KeywordThreshold: keywordThreshold},
		},
	}
}

func (p *Parser) Parse(doc *goquery.Document, baseURL string) []Candidate {
	for _, s := range p.strategies {
		if candidates := s.Extract(doc, baseURL); len(candidates) > 0 {
			return candidates
		}
	}
	return nil
}

// BlockStrategy scans container elements whose class attribute carries a
// listing keyword, plus all list items, and keeps the blocks whose text
// contains enough grant keywords.
type BlockStrategy struct {
	KeywordThreshold int
}

func (s *BlockStrategy) Name() string { return "block" }

func (s *BlockStrategy) Extract(doc *goquery.Document, baseURL string) []Candidate {
	var candidates []Candidate
	seenTitles := make(map[string]bool)

	process := func(_ int, sel *goquery.Selection) {
		text := normalizeSpace(sel.Text())
		if countGrantKeywords(text) < s.KeywordThreshold {
			return
		}
		c, ok := extractCandidate(sel, text, baseURL)
		if !ok || seenTitles[c.Title] {
			return
		}
		seenTitles[c.Title] = true
		candidates = append(candidates, c)
	}

	doc.Find(classContainerSelector()).Each(process)
	doc.Find("li").Each(process)

	return candidates
}

// classContainerSelector builds the attribute-contains selector for the
// fixed container class keywords.
func classContainerSelector() string {
	parts := make([]string, len(containerClassKeywords))
	for i, kw := range containerClassKeywords {
		parts[i] = "[class*=" + kw + "]"
	}
	return strings.Join(parts, ", ")
}

// HeadingWindowStrategy is the fallback for pages with no keyword-dense
// blocks: each heading claims the markup up to the next heading, capped at
// a fixed window, and the same field extraction runs on that section.
type HeadingWindowStrategy struct {
	KeywordThreshold int
}

const headingWindowChars = 1000

func (s *HeadingWindowStrategy) Name() string { return "heading_window" }

func (s *HeadingWindowStrategy) Extract(doc *goquery.Document, baseURL string) []Candidate {
	var candidates []Candidate
	seenTitles := make(map[string]bool)

	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, heading *goquery.Selection) {
		title := normalizeSpace(heading.Text())
		if len(title) < 5 || len(title) > 200 {
			return
		}

		window := heading.NextUntil("h1, h2, h3, h4, h5, h6")
		text := title + " " + truncate(normalizeSpace(window.Text()), headingWindowChars)
		if countGrantKeywords(text) < s.KeywordThreshold {
			return
		}
		if seenTitles[title] {
			return
		}

		c := buildCandidate(title, text, firstHref(window, baseURL))
		seenTitles[title] = true
		candidates = append(candidates, c)
	})

	return candidates
}

// extractCandidate pulls the candidate fields out of one accepted block.
func extractCandidate(sel *goquery.Selection, text, baseURL string) (Candidate, bool) {
	title := normalizeSpace(sel.Find("h1, h2, h3, h4, h5, h6, b, strong").First().Text())
	if len(title) < 5 || len(title) > 200 {
		return Candidate{}, false
	}
	return buildCandidate(title, text, firstHref(sel, baseURL)), true
}

// buildCandidate runs the shared field-extraction rules over a block's text.
func buildCandidate(title, text, href string) Candidate {
	amountDisplay, amountMin, amountMax := extractAmount(text)
	deadlineDisplay, deadlineAt := extractDeadline(text)

	summary := sanitizeText(strings.TrimSpace(strings.TrimPrefix(normalizeSpace(text), title)))
	summary = truncate(summary, 500)

	return Candidate{
		Title:           title,
		Summary:         summary,
		AmountDisplay:   amountDisplay,
		AmountMin:       amountMin,
		AmountMax:       amountMax,
		DeadlineDisplay: deadlineDisplay,
		DeadlineAt:      deadlineAt,
		ApplicationURL:  href,
		Status:          deriveStatus(text),
		OpportunityType: deriveOpportunityType(text),
		OrgTypes:        deriveOrgTypes(text),
		Geographies:     deriveGeographies(text),
	}
}

// firstHref resolves the first anchor in the selection against the page URL.
func firstHref(sel *goquery.Selection, baseURL string) string {
	href := ""
	sel.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ = a.Attr("href")
		return false
	})
	if href == "" {
		return ""
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	rel, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return base.ResolveReference(rel).String()
}
