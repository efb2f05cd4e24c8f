package votes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/upstream"
)

const (
	defaultIndexerBase = "https://api.helius.xyz"
	pollPageLimit      = 100
	maxPollPages       = 10
)

// Poller walks the prize wallet's transaction history through the
// indexer's enhanced-transactions API and feeds each page to the
// ingestor. Idempotency makes re-polling old pages harmless.
type Poller struct {
	ingestor *Ingestor
	client   *http.Client
	guard    *upstream.Guard
	baseURL  string
	apiKey   string
	wallet   string
}

func NewPoller(ing *Ingestor, apiKey string, guards *upstream.Registry) *Poller {
	return &Poller{
		ingestor: ing,
		client:   &http.Client{Timeout: 30 * time.Second},
		guard:    guards.Guard(upstream.ProviderHelius),
		baseURL:  defaultIndexerBase,
		apiKey:   apiKey,
		wallet:   ing.cfg.PrizeWallet,
	}
}

// SetBaseURL points the poller at a different indexer host. Tests use
// this with a local server.
func (p *Poller) SetBaseURL(raw string) { p.baseURL = raw }

// PollStats summarizes one polling pass.
type PollStats struct {
	Pages      int `json:"pages"`
	Events     int `json:"events"`
	Votes      int `json:"votes"`
	Donations  int `json:"donations"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
}

// Poll walks history pages newest-first until an empty page, a page of
// nothing but already-seen signatures, or the page cap.
func (p *Poller) Poll(ctx context.Context) (*PollStats, error) {
	stats := &PollStats{}
	before := ""

	for page := 0; page < maxPollPages; page++ {
		events, err := p.fetchPage(ctx, before)
		if err != nil {
			return stats, err
		}
		if len(events) == 0 {
			break
		}
		stats.Pages++

		newRows := false
		for i := range events {
			out, err := p.ingestor.ProcessEvent(ctx, &events[i])
			if err != nil {
				log.Error().Err(err).Str("signature", events[i].Signature).Msg("event ingestion failed")
				continue
			}
			stats.Events++
			switch {
			case out.Duplicate:
				stats.Duplicates++
			case out.VoteAmount > 0:
				stats.Votes++
				newRows = true
			case out.Donations > 0:
				stats.Donations += out.Donations
				newRows = true
			default:
				stats.Skipped++
			}
		}

		if !newRows && stats.Duplicates > 0 {
			// Caught up with previously ingested history.
			break
		}
		if len(events) < pollPageLimit {
			break
		}
		before = events[len(events)-1].Signature
	}

	log.Info().
		Int("pages", stats.Pages).
		Int("votes", stats.Votes).
		Int("donations", stats.Donations).
		Int("duplicates", stats.Duplicates).
		Msg("vote polling pass complete")
	return stats, nil
}

func (p *Poller) fetchPage(ctx context.Context, before string) ([]Event, error) {
	u, err := url.Parse(fmt.Sprintf("%s/v0/addresses/%s/transactions", p.baseURL, p.wallet))
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("api-key", p.apiKey)
	q.Set("limit", fmt.Sprint(pollPageLimit))
	if before != "" {
		q.Set("before", before)
	}
	u.RawQuery = q.Encode()

	result, err := p.guard.Do(ctx, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return nil, apperr.Upstreamf("indexer request failed: %v", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, apperr.Upstreamf("indexer response read failed: %v", err)
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("%w: indexer throttled the poller", apperr.ErrRateLimited)
		case resp.StatusCode >= 500:
			return nil, apperr.Upstreamf("indexer returned %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("indexer returned %d: %s", resp.StatusCode, clipBytes(body, 200))
		}

		var events []Event
		if err := json.Unmarshal(body, &events); err != nil {
			return nil, apperr.Upstreamf("indexer payload unreadable: %v", err)
		}
		return events, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]Event), nil
}

func clipBytes(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
