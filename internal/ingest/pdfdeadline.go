package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"time"

	rpdf "rsc.io/pdf"
)

var pdfDateRegexes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b\d{1,2}/\d{1,2}/20\d{2}\b`),
	regexp.MustCompile(`\b20\d{2}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\.?\s+\d{1,2},?\s+20\d{2}\b`),
	regexp.MustCompile(`(?i)\b\d{1,2}\s+(January|February|March|April|May|June|July|August|September|October|November|December)\s+20\d{2}\b`),
}

// extractPDFText pulls plain text from a PDF body. The parser panics on
// some malformed files, so the recover converts that to an error.
func extractPDFText(content []byte) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf parser panic: %v", recovered)
			text = ""
		}
	}()

	reader, err := rpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	for pageIndex := 1; pageIndex <= reader.NumPage(); pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		for _, fragment := range page.Content().Text {
			builder.WriteString(fragment.S)
			builder.WriteString(" ")
		}
		builder.WriteString("\n")
	}

	return builder.String(), nil
}

// pdfDateCandidates collects every parseable date in the text, ascending.
func pdfDateCandidates(text string) []time.Time {
	seen := make(map[time.Time]bool)
	var dates []time.Time
	for _, expr := range pdfDateRegexes {
		for _, token := range expr.FindAllString(text, -1) {
			parsed := parseCandidateDate(token)
			if parsed == nil || seen[*parsed] {
				continue
			}
			seen[*parsed] = true
			dates = append(dates, *parsed)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// MineDeadlineFromPDF fetches a linked PDF and returns the earliest future
// date found in its text. Used when a scraped candidate links a PDF but the
// page itself carried no parseable deadline.
func MineDeadlineFromPDF(ctx context.Context, fetcher Fetcher, pdfURL string, now time.Time) (*time.Time, error) {
	doc, err := fetcher.Fetch(ctx, pdfURL)
	if err != nil {
		return nil, err
	}
	defer doc.Body.Close()

	content, err := io.ReadAll(doc.Body)
	if err != nil {
		return nil, fmt.Errorf("pdf read failed: %w", err)
	}

	text, err := extractPDFText(content)
	if err != nil {
		return nil, fmt.Errorf("pdf text extraction failed: %w", err)
	}

	for _, date := range pdfDateCandidates(text) {
		if date.After(now) {
			d := date
			return &d, nil
		}
	}
	return nil, nil
}
