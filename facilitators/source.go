package facilitators

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// FetchStats provides request-level telemetry for one FetchAll pass.
type FetchStats struct {
	Pages      int
	Requests   int
	Retries429 int
}

// Source abstracts one facilitator's discovery feed.
type Source interface {
	// Name returns the facilitator label used in logs and sync history.
	Name() string

	// FetchAll pages through the feed and returns every listing it could
	// collect. A non-nil error means the fetch stopped early; the listings
	// accumulated before the failure are still returned.
	FetchAll(ctx context.Context) ([]Listing, FetchStats, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// HTTP discovery source
// ─────────────────────────────────────────────────────────────────────────────

// HTTPSource pages a discovery endpoint with offset/limit query parameters.
//
//	GET {endpoint}?offset=0&limit=100
//	  -> [...] or {"items":[...]} or {"resources":[...]} or {"data":{"items":[...]}}
//
// Pagination stops on an empty page or a short page. 429 responses are
// retried on the same page with exponential backoff; any other HTTP error
// abandons the remaining pages for this source only.
type HTTPSource struct {
	name       string
	endpoint   string
	client     *http.Client
	userAgent  string
	limit      int
	maxRetries int
	pageDelay  time.Duration
	timeout    time.Duration
	observe    func(code int, ms float64)

	// backoff maps a zero-based retry attempt to a wait; overridable in tests.
	backoff func(retry int) time.Duration
}

type HTTPSourceOptions struct {
	Name      string
	Endpoint  string
	UserAgent string

	Limit      int           // page size; default 100
	MaxRetries int           // 429 retries per page; default 3
	PageDelay  time.Duration // delay between successful pages; default 500ms
	Timeout    time.Duration // per-request timeout; default 30s

	// Observe, if set, is called once per HTTP request with the status code
	// and latency in milliseconds.
	Observe func(code int, ms float64)
}

func NewHTTPSource(opts HTTPSourceOptions) (*HTTPSource, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errors.New("Endpoint is required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid Endpoint: %w", err)
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = endpoint
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "x402sync/1.0"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	delay := opts.PageDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	to := opts.Timeout
	if to <= 0 {
		to = 30 * time.Second
	}
	return &HTTPSource{
		name:       name,
		endpoint:   endpoint,
		client:     &http.Client{Timeout: to},
		userAgent:  ua,
		limit:      limit,
		maxRetries: retries,
		pageDelay:  delay,
		timeout:    to,
		observe:    opts.Observe,
		backoff: func(retry int) time.Duration {
			return time.Duration(1<<(retry+2)) * time.Second
		},
	}, nil
}

func (s *HTTPSource) Name() string { return s.name }

func (s *HTTPSource) FetchAll(ctx context.Context) ([]Listing, FetchStats, error) {
	var all []Listing
	var stats FetchStats

	offset := 0
	for {
		items, err := s.fetchPage(ctx, offset, &stats)
		if err != nil {
			return all, stats, err
		}
		stats.Pages++
		if len(items) == 0 {
			return all, stats, nil
		}
		for i := range items {
			items[i].Facilitator = s.name
		}
		all = append(all, items...)
		if len(items) < s.limit {
			return all, stats, nil
		}
		offset += s.limit

		select {
		case <-ctx.Done():
			return all, stats, ctx.Err()
		case <-time.After(s.pageDelay):
		}
	}
}

// fetchPage fetches one page, retrying 429s in place. wait = 2^(retry+2)s.
func (s *HTTPSource) fetchPage(ctx context.Context, offset int, stats *FetchStats) ([]Listing, error) {
	u := s.pageURL(offset)

	for retry := 0; ; retry++ {
		body, status, err := s.doGET(ctx, u)
		stats.Requests++
		if status == http.StatusTooManyRequests {
			stats.Retries429++
			if retry >= s.maxRetries-1 {
				return nil, fmt.Errorf("rate limited after %d retries", s.maxRetries)
			}
			wait := s.backoff(retry)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		items, err := decodeItems(body)
		if err != nil {
			return nil, fmt.Errorf("page offset=%d: %w", offset, err)
		}
		return items, nil
	}
}

func (s *HTTPSource) pageURL(offset int) string {
	sep := "?"
	if strings.Contains(s.endpoint, "?") {
		sep = "&"
	}
	return s.endpoint + sep + "offset=" + strconv.Itoa(offset) + "&limit=" + strconv.Itoa(s.limit)
}

func (s *HTTPSource) doGET(ctx context.Context, u string) ([]byte, int, error) {
	ctxReq, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxReq, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.userAgent)

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		if s.observe != nil {
			s.observe(0, float64(time.Since(start).Milliseconds()))
		}
		return nil, 0, err
	}
	defer resp.Body.Close()
	status := resp.StatusCode
	b, _ := io.ReadAll(resp.Body)
	if s.observe != nil {
		s.observe(status, float64(time.Since(start).Milliseconds()))
	}
	if status < 200 || status >= 300 {
		return nil, status, fmt.Errorf("http status %d", status)
	}
	return b, status, nil
}

// decodeItems normalizes the response shapes seen across facilitators:
// a bare array, {"items":[...]}, {"resources":[...]}, {"data":{"items":[...]}}.
func decodeItems(body []byte) ([]Listing, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var arr []Listing
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, fmt.Errorf("array payload parse: %w", err)
		}
		return arr, nil
	}
	var wrapped struct {
		Items     []Listing `json:"items"`
		Resources []Listing `json:"resources"`
		Data      struct {
			Items []Listing `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("object payload parse: %w", err)
	}
	switch {
	case len(wrapped.Items) > 0:
		return wrapped.Items, nil
	case len(wrapped.Resources) > 0:
		return wrapped.Resources, nil
	case len(wrapped.Data.Items) > 0:
		return wrapped.Data.Items, nil
	}
	return nil, nil
}
