package page

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// FetcherConfig controls how pages are requested from the local server.
type FetcherConfig struct {
	// BaseURL is the supervised server root, e.g. http://localhost:41722.
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// Retry governs transport failures; HTTP error statuses are never retried.
	Retry RetryPolicy
	// RequestsPerSecond paces requests to the server. Zero is unlimited.
	RequestsPerSecond float64
	Burst             int
}

// Fetcher retrieves site pages through a Colly collector pointed at the
// locally served copy of the site.
type Fetcher struct {
	base          *url.URL
	baseCollector *colly.Collector
	retry         RetryPolicy
	limiter       *rate.Limiter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type rawResponse struct {
	// finalURL is the local URL the response came from after redirects.
	finalURL    *url.URL
	statusCode  int
	contentType string
	body        []byte
}

// NewFetcher builds a Fetcher for the server rooted at cfg.BaseURL.
func NewFetcher(cfg FetcherConfig, logger *zap.Logger) (*Fetcher, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !isWebScheme(base) || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be an absolute http(s) url", cfg.BaseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retry := cfg.Retry
	if retry == nil {
		retry = NewExponentialRetryPolicy(2, 250*time.Millisecond, 2*time.Second)
	}

	c := colly.NewCollector(colly.Async(false))
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	// The director owns the visited set; retries must be able to revisit.
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(timeout)

	return &Fetcher{
		base:          base,
		baseCollector: c,
		retry:         retry,
		limiter:       newLimiter(cfg.RequestsPerSecond, cfg.Burst),
		logger:        logger,
	}, nil
}

// Fetch requests target from the local server and builds its Page. A 404
// or other non-2xx status is a NotFound page, not an error; errors are
// reserved for transport failures that outlast the retry policy.
func (f *Fetcher) Fetch(ctx context.Context, target, referer *url.URL) (*Page, error) {
	local := f.localURL(target)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch %s canceled: %w", local, err)
		}
		if err := f.wait(ctx, local); err != nil {
			return nil, err
		}
		res, err := f.fetchOnce(ctx, local)
		if err == nil {
			return NewWithBase(target, f.siteURL(target, res.finalURL), referer, res.statusCode, res.contentType, res.body)
		}
		if !f.retry.ShouldRetry(err, attempt) {
			return nil, fmt.Errorf("fetch %s: %w", local, err)
		}
		wait := f.retry.Backoff(attempt)
		f.logger.Warn("Fetch failed; retrying",
			zap.String("url", local),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("fetch %s canceled: %w", local, ctx.Err())
		case <-timer.C:
		}
	}
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func (f *Fetcher) wait(ctx context.Context, local string) error {
	start := time.Now()
	if err := f.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("fetch %s rate limit wait: %w", local, err)
	}
	if delay := time.Since(start); delay > 10*time.Millisecond {
		f.logger.Debug("Fetch paced", zap.String("url", local), zap.Duration("delay", delay))
	}
	return nil
}

func (f *Fetcher) localURL(target *url.URL) string {
	local := *f.base
	local.Path = target.Path
	local.RawPath = target.RawPath
	local.RawQuery = ""
	local.Fragment = ""
	return local.String()
}

// siteURL maps a local server URL back into target's URL space. It returns
// nil when final is unknown or points off the local server.
func (f *Fetcher) siteURL(target, final *url.URL) *url.URL {
	if final == nil || !sameHost(final, f.base) {
		return nil
	}
	u := *target
	u.Path = final.Path
	u.RawPath = final.RawPath
	u.RawQuery = ""
	u.Fragment = ""
	return &u
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (rawResponse, error) {
	var (
		result   rawResponse
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, &result, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return rawResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return rawResponse{}, fmt.Errorf("colly visit failed: %w", err)
		}
		if fetchErr != nil {
			return rawResponse{}, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		if result.statusCode == 0 {
			return rawResponse{}, errors.New("colly fetch produced no result")
		}
		return result, nil
	}
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *rawResponse, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		var final *url.URL
		if r.Request != nil && r.Request.URL != nil {
			u := *r.Request.URL
			final = &u
		}
		*result = rawResponse{
			finalURL:    final,
			statusCode:  r.StatusCode,
			contentType: contentType,
			body:        append([]byte(nil), r.Body...),
		}
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		*fetchErr = err
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
