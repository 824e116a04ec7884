package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fundscout/fundscout/internal/logger"
)

// QuarantineNote annotates records whose application link went dead. The
// record stays in the store; the note tells reviewers why it disappeared
// from user-facing results.
const QuarantineNote = "Application link returned a permanent error during automated validation; needs manual review."

// LinkValidator sweeps active verified records and quarantines the ones
// whose application URLs are dead.
type LinkValidator struct {
	store     Store
	log       logger.Logger
	client    *http.Client
	batchSize int
	pause     time.Duration
}

func NewLinkValidator(store Store, log logger.Logger) *LinkValidator {
	return &LinkValidator{
		store: store,
		log:   log,
		client: &http.Client{
			Timeout: LinkCheckTimeout,
		},
		batchSize: LinkCheckBatchSize,
		pause:     LinkCheckPause,
	}
}

// Sweep checks every active verified record with an application URL, in
// fixed-size concurrent batches with a pause between batches. Per-item
// failures are isolated; one bad host cannot abort the sweep.
func (v *LinkValidator) Sweep(ctx context.Context) (checked, quarantined int, err error) {
	records, err := v.store.ActiveVerifiedWithURL(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load sweep set: %w", err)
	}

	for start := 0; start < len(records); start += v.batchSize {
		end := start + v.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		results := make([]bool, len(batch))
		var wg sync.WaitGroup
		for i := range batch {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer func() {
					if recovered := recover(); recovered != nil {
						v.log.Error("link check panic",
							logger.String("url", batch[i].ApplicationURL))
						results[i] = true // do not penalize on our own bug
					}
				}()
				results[i] = v.checkURL(ctx, batch[i].ApplicationURL)
			}(i)
		}
		wg.Wait()

		for i := range batch {
			checked++
			if results[i] {
				if err := v.store.TouchOpportunity(ctx, batch[i].ID); err != nil {
					v.log.Error("touch failed", logger.Error(err))
				}
				continue
			}
			v.log.Warn("dead application link",
				logger.String("slug", batch[i].Slug),
				logger.String("url", batch[i].ApplicationURL))
			if err := v.store.Quarantine(ctx, batch[i].ID, QuarantineNote); err != nil {
				v.log.Error("quarantine failed", logger.Error(err))
				continue
			}
			quarantined++
		}

		if end < len(records) {
			time.Sleep(v.pause)
		}
	}

	return checked, quarantined, nil
}

// checkURL reports whether the URL looks alive. HEAD first; a 405 retries
// with GET since some origins reject HEAD outright.
func (v *LinkValidator) checkURL(ctx context.Context, url string) bool {
	status, err := v.request(ctx, http.MethodHead, url)
	if err == nil && status == http.StatusMethodNotAllowed {
		status, err = v.request(ctx, http.MethodGet, url)
	}
	if err != nil {
		return classifyTransportError(err)
	}
	return classifyStatus(status)
}

func (v *LinkValidator) request(ctx context.Context, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := v.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// classifyStatus: 404/410 are dead; 403 commonly means bot-blocked, not
// dead; anything else is assumed transient or fine.
func classifyStatus(status int) bool {
	switch status {
	case http.StatusNotFound, http.StatusGone:
		return false
	}
	return true
}

// classifyTransportError: DNS failures and refused connections mean the
// host is gone; timeouts and everything else are treated as transient.
func classifyTransportError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return false
	}
	if strings.Contains(err.Error(), "connection refused") {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return true
}

// Alive classifies one check outcome: status code when err is nil,
// transport error otherwise.
func Alive(status int, err error) bool {
	if err != nil {
		return classifyTransportError(err)
	}
	return classifyStatus(status)
}
