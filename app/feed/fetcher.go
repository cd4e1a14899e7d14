package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const maxPageSize = 64 << 20

// Fetcher retrieves single RPDE pages, honouring the per-host request spacing.
type Fetcher struct {
	httpClient *http.Client
	limiter    *HostLimiter
	parser     *Parser
	userAgent  string
	timeout    time.Duration
}

func NewFetcher(httpClient *http.Client, limiter *HostLimiter, parser *Parser, userAgent string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		httpClient: httpClient,
		limiter:    limiter,
		parser:     parser,
		userAgent:  userAgent,
		timeout:    timeout,
	}
}

// Run fetches and decodes the page at pageURL. Failures are returned as *Error; nothing is
// retried here.
func (f *Fetcher) Run(ctx context.Context, pageURL string) (*Page, error) {
	if err := f.limiter.Wait(ctx, pageURL); err != nil {
		return nil, NewTransportError(pageURL, fmt.Errorf("rate limit wait: %w", err))
	}

	data, err := f.fetchPage(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	page, err := f.parser.Run(pageURL, data)
	if err != nil {
		return nil, NewMalformedError(pageURL, err)
	}

	slog.Debug("Page fetched", "url", pageURL, "items", len(page.Items), "next", page.Next)
	return page, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, NewTransportError(pageURL, fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, NewTransportError(pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, NewHTTPStatusError(pageURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, NewTransportError(pageURL, fmt.Errorf("failed to read response body: %w", err))
	}

	return data, nil
}
