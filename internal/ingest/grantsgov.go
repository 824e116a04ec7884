package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fundscout/fundscout/internal/db"
	"github.com/fundscout/fundscout/internal/logger"
	"github.com/fundscout/fundscout/internal/models"
	"github.com/google/uuid"
)

const (
	grantsGovSearchURL = "https://api.grants.gov/v1/api/search2"
	grantsGovDetailURL = "https://api.grants.gov/v1/api/fetchOpportunity"
	grantsGovDetailFmt = "https://www.grants.gov/search-results-detail/%s"

	// Eligibility codes scoped to nonprofit applicants.
	grantsGovEligibilities = "12|13|25"

	// grantsGovMaxPages bounds the per-category pagination loop so a
	// misreported hitCount cannot spin forever.
	grantsGovMaxPages = 10
)

// categoryFocusAreas maps Grants.gov category codes to internal focus-area
// tags. Unknown codes produce no tags.
var categoryFocusAreas = map[string][]string{
	"ED":  {"education"},
	"HL":  {"health"},
	"ENV": {"environment", "climate"},
	"CD":  {"community-development"},
	"AR":  {"arts-culture"},
	"ST":  {"science-technology"},
	"FN":  {"food-nutrition"},
	"HO":  {"housing"},
}

// eligibilityOrgTypes maps Grants.gov applicant-eligibility codes to internal
// org-type tags. Unmapped codes default to 501c3.
var eligibilityOrgTypes = map[string]string{
	"12": "501c3",
	"13": "501c3",
	"25": "501c3",
	"00": "government",
	"01": "government",
	"02": "government",
	"04": "government",
	"05": "government",
	"06": "education",
	"07": "government",
	"08": "education",
	"20": "education",
	"21": "individual",
	"22": "business",
	"23": "business",
	"99": "501c3",
}

// GrantsGovClient ingests federal opportunities per configured category.
type GrantsGovClient struct {
	client        *http.Client
	store         Store
	log           logger.Logger
	searchURL     string
	detailURL     string
	rows          int
	categoryDelay time.Duration
}

func NewGrantsGovClient(store Store, log logger.Logger, rows int) *GrantsGovClient {
	if rows <= 0 {
		rows = 50
	}
	return &GrantsGovClient{
		client:        &http.Client{Timeout: DetailFetchTimeout},
		store:         store,
		log:           log,
		searchURL:     grantsGovSearchURL,
		detailURL:     grantsGovDetailURL,
		rows:          rows,
		categoryDelay: CategoryDelay,
	}
}

type grantsGovSearchRequest struct {
	FundingCategories string `json:"fundingCategories"`
	Eligibilities     string `json:"eligibilities"`
	OppStatuses       string `json:"oppStatuses"`
	SortBy            string `json:"sortBy"`
	Rows              int    `json:"rows"`
	StartRecordNum    int    `json:"startRecordNum"`
}

type grantsGovSearchResponse struct {
	Data struct {
		HitCount int               `json:"hitCount"`
		OppHits  []grantsGovRecord `json:"oppHits"`
	} `json:"data"`
	ErrorCode int    `json:"errorcode"`
	Msg       string `json:"msg"`
}

type grantsGovRecord struct {
	ID        string `json:"id"`
	Number    string `json:"number"`
	Title     string `json:"title"`
	Agency    string `json:"agency"`
	OpenDate  string `json:"openDate"`
	CloseDate string `json:"closeDate"`
	OppStatus string `json:"oppStatus"`
	DocType   string `json:"docType"`
}

// Run sweeps every configured category. Per-category failures are recorded
// and the loop continues; the returned error slice feeds the run summary.
func (g *GrantsGovClient) Run(ctx context.Context, run *RunContext, funderID uuid.UUID, funderSlug string, categories []string) (newCount, updatedCount int, errs []string) {
	for i, category := range categories {
		if i > 0 {
			time.Sleep(g.categoryDelay)
		}

		hits, err := g.search(ctx, category)
		if err != nil {
			errs = append(errs, fmt.Sprintf("grants.gov category %s: %v", category, err))
			continue
		}

		n, u, hitErrs := g.reconcileHits(ctx, run, funderID, funderSlug, category, hits)
		newCount += n
		updatedCount += u
		errs = append(errs, hitErrs...)
	}
	return newCount, updatedCount, errs
}

// search pages through one category until every reported hit is collected.
func (g *GrantsGovClient) search(ctx context.Context, category string) ([]grantsGovRecord, error) {
	var hits []grantsGovRecord
	for page := 0; page < grantsGovMaxPages; page++ {
		resp, err := g.searchPage(ctx, category, len(hits))
		if err != nil {
			return nil, err
		}
		hits = append(hits, resp.Data.OppHits...)
		if len(resp.Data.OppHits) == 0 || len(hits) >= resp.Data.HitCount {
			break
		}
	}
	return hits, nil
}

func (g *GrantsGovClient) searchPage(ctx context.Context, category string, startRecordNum int) (*grantsGovSearchResponse, error) {
	reqBody := grantsGovSearchRequest{
		FundingCategories: category,
		Eligibilities:     grantsGovEligibilities,
		OppStatuses:       "posted",
		SortBy:            "openDate|desc",
		Rows:              g.rows,
		StartRecordNum:    startRecordNum,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.searchURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("API returned %d: %s", resp.StatusCode, string(body))
	}

	var apiResp grantsGovSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if apiResp.ErrorCode != 0 {
		return nil, fmt.Errorf("API error: %s", apiResp.Msg)
	}

	return &apiResp, nil
}

func (g *GrantsGovClient) reconcileHits(ctx context.Context, run *RunContext, funderID uuid.UUID, funderSlug, category string, hits []grantsGovRecord) (newCount, updatedCount int, errs []string) {
	for _, hit := range hits {
		if hit.Title == "" || hit.ID == "" {
			continue
		}

		sourceURL := fmt.Sprintf(grantsGovDetailFmt, hit.ID)
		hash := FederalContentHash(hit.Title, hit.CloseDate, hit.OppStatus)

		existing, err := g.store.OpportunityBySourceURL(ctx, funderID, sourceURL)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			errs = append(errs, fmt.Sprintf("grants.gov lookup %s: %v", hit.ID, err))
			continue
		}

		deadlineAt := parseGrantsGovDate(hit.CloseDate)
		status := deriveFederalStatus(hit, deadlineAt, run.Now)

		if existing != nil {
			if existing.ContentHash == hash {
				continue
			}
			// Title and identity are immutable post-creation; only the
			// lifecycle fields move.
			if err := g.store.PatchFederalFields(ctx, existing.ID, status, deadlineAt, hit.CloseDate, hash); err != nil {
				errs = append(errs, fmt.Sprintf("grants.gov patch %s: %v", hit.ID, err))
			} else {
				updatedCount++
			}
			continue
		}

		record := &models.OpportunityRecord{
			Slug:            DeriveSlug(funderSlug, hit.Title),
			FunderID:        funderID,
			Title:           hit.Title,
			Summary:         fmt.Sprintf("Federal funding opportunity %s from %s.", hit.Number, hit.Agency),
			DeadlineDisplay: hit.CloseDate,
			DeadlineAt:      deadlineAt,
			ApplicationURL:  sourceURL,
			SourceURL:       sourceURL,
			Status:          status,
			OpportunityType: "grant",
			OrgTypes:        []string{"501c3"},
			Geographies:     []string{"US"},
			FocusAreas:      categoryFocusAreas[category],
			ContentHash:     hash,
			Verified:        true, // trusted source, exempt from human review
		}

		// Detail fetch only for genuinely new hits, to bound request volume.
		// Failure degrades to inserting with nulled optionals.
		if detail, err := g.fetchDetail(ctx, hit.ID); err == nil {
			applyDetail(record, detail)
		} else {
			g.log.Warn("grants.gov detail fetch failed",
				logger.String("id", hit.ID), logger.Error(err))
		}

		insertErr := g.store.InsertOpportunity(ctx, record)
		if errors.Is(insertErr, db.ErrDuplicate) {
			continue
		}
		if insertErr != nil {
			errs = append(errs, fmt.Sprintf("grants.gov insert %s: %v", hit.ID, insertErr))
			continue
		}
		if run != nil {
			run.SeenSlugs[record.Slug] = true
		}
		newCount++
	}
	return newCount, updatedCount, errs
}

func (g *GrantsGovClient) fetchDetail(ctx context.Context, oppID string) (map[string]interface{}, error) {
	jsonBody, _ := json.Marshal(map[string]string{"id": oppID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.detailURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detail API returned %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result, nil
}

// applyDetail merges the fetchOpportunity synopsis into a new record.
func applyDetail(record *models.OpportunityRecord, detail map[string]interface{}) {
	syn, ok := detail["synopsis"].(map[string]interface{})
	if !ok {
		return
	}

	if desc, ok := syn["synopsisDesc"].(string); ok && desc != "" {
		record.Summary = truncate(sanitizeText(desc), 2000)
	}
	if ceiling := parseMoneyField(syn["awardCeiling"]); ceiling > 0 {
		record.AmountMax = ceiling
		record.AmountDisplay = fmt.Sprintf("Up to $%s", formatAmount(ceiling))
	}
	if floor := parseMoneyField(syn["awardFloor"]); floor > 0 {
		record.AmountMin = floor
	}
	if record.AmountMin > 0 && record.AmountMax > 0 {
		record.AmountDisplay = fmt.Sprintf("$%s - $%s", formatAmount(record.AmountMin), formatAmount(record.AmountMax))
	}
	if expected := parseMoneyField(syn["numberOfAwards"]); expected > 0 {
		record.ExpectedAwards = int(expected)
	}

	if codes, ok := syn["applicantTypes"].([]interface{}); ok {
		var orgTypes []string
		for _, raw := range codes {
			code, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			id, _ := code["id"].(string)
			tag, mapped := eligibilityOrgTypes[id]
			if !mapped {
				tag = "501c3"
			}
			orgTypes = appendUnique(orgTypes, tag)
		}
		if len(orgTypes) > 0 {
			record.OrgTypes = orgTypes
		}
	}
}

// parseMoneyField handles the API's habit of sending numbers as strings
// with currency punctuation.
func parseMoneyField(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		clean := strings.ReplaceAll(strings.ReplaceAll(val, "$", ""), ",", "")
		if f, err := strconv.ParseFloat(clean, 64); err == nil {
			return f
		}
	}
	return 0
}

func formatAmount(v float64) string {
	s := strconv.FormatFloat(v, 'f', 0, 64)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// parseGrantsGovDate parses the API's MM/DD/YYYY close dates to end of day.
func parseGrantsGovDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("01/02/2006", s)
	if err != nil {
		return nil
	}
	eod := toEndOfDay(t)
	return &eod
}

// deriveFederalStatus maps a hit's literal status and close date to the
// lifecycle enum.
func deriveFederalStatus(hit grantsGovRecord, deadlineAt *time.Time, now time.Time) string {
	switch strings.ToLower(hit.OppStatus) {
	case "closed", "archived":
		return models.StatusClosed
	case "forecasted":
		return models.StatusUpcoming
	}
	if strings.EqualFold(hit.DocType, "forecast") {
		return models.StatusUpcoming
	}

	if deadlineAt == nil {
		return models.StatusOpen
	}
	days := int(deadlineAt.Sub(now).Hours() / 24)
	switch {
	case deadlineAt.Before(now):
		return models.StatusClosed
	case days <= ClosingSoonDays:
		return models.StatusClosingSoon
	default:
		return models.StatusOpen
	}
}
