// Package crawl drives a two-pass link check over a served site. Pass one
// walks every reachable page once and classifies it; pass two replays the
// fetched pages so fragment references deferred during pass one can be
// checked against the full set of anchors.
package crawl

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkgate/internal/page"
	"github.com/JakeFAU/linkgate/internal/progress"
	"github.com/JakeFAU/linkgate/internal/sieve"
)

// Fetcher retrieves one page. page.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, target, referer *url.URL) (*page.Page, error)
}

// Result is the outcome of one crawl.
type Result struct {
	CrawlID uuid.UUID
	// Broken holds pass-one records, then pass-two records, then references
	// to pages that were never fetched.
	Broken []sieve.LinkRecord
	// Working lists every page fetched successfully, in crawl order.
	Working []string
	// Pages counts fetched pages, found or not.
	Pages int
	// Truncated is set when the max-pages limit stopped pass one early.
	Truncated bool
	Duration  time.Duration
}

// Director owns the visited set and frontier of one crawl.
type Director struct {
	fetcher  Fetcher
	sieve    *sieve.Sieve
	maxPages int
	exclude  *pathExcluder
	logger   *zap.Logger
	emitter  progress.Emitter
	crawlID  uuid.UUID
}

// Option configures a Director.
type Option func(*Director)

// WithMaxPages stops pass one after n fetches. Zero means no limit.
func WithMaxPages(n int) Option {
	return func(d *Director) {
		d.maxPages = n
	}
}

// WithExcludePatterns skips site paths matching any of patterns. References
// into skipped paths are not reported as unresolved.
func WithExcludePatterns(patterns []string) Option {
	return func(d *Director) {
		d.exclude = newPathExcluder(patterns)
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Director) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithEmitter routes progress events to e.
func WithEmitter(e progress.Emitter) Option {
	return func(d *Director) {
		if e != nil {
			d.emitter = e
		}
	}
}

// WithCrawlID fixes the crawl ID instead of generating one.
func WithCrawlID(id uuid.UUID) Option {
	return func(d *Director) {
		d.crawlID = id
	}
}

// NewDirector returns a Director that fetches through fetcher and classifies
// with sv. The sieve must not be shared with another crawl.
func NewDirector(fetcher Fetcher, sv *sieve.Sieve, opts ...Option) *Director {
	d := &Director{
		fetcher: fetcher,
		sieve:   sv,
		logger:  zap.NewNop(),
		emitter: progress.NopEmitter{},
		crawlID: uuid.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("crawl").With(zap.String("crawl_id", d.crawlID.String()))
	return d
}

// CrawlID returns the ID attached to this crawl's events and result.
func (d *Director) CrawlID() uuid.UUID {
	return d.crawlID
}

type queued struct {
	url     *url.URL
	referer *url.URL
}

type firstPassState struct {
	pages     []*page.Page
	seen      map[string]struct{}
	broken    []sieve.LinkRecord
	working   []string
	truncated bool
}

// Run crawls from start. Broken links never stop the crawl; a fetch error
// that survives the fetcher's retries, or ctx cancellation, does.
func (d *Director) Run(ctx context.Context, start *url.URL) (Result, error) {
	if start == nil {
		return Result{}, fmt.Errorf("crawl start url is required")
	}
	startedAt := time.Now()
	root := page.Canonical(start)
	d.emit(progress.Event{Stage: progress.StageCrawlStart, URL: root.String()})
	d.logger.Info("Crawl started", zap.String("start", root.String()))

	state, err := d.firstPass(ctx, root)
	if err != nil {
		d.emit(progress.Event{Stage: progress.StageCrawlError, Note: err.Error(), Dur: time.Since(startedAt)})
		return Result{}, err
	}
	d.emit(progress.Event{Stage: progress.StagePassDone, Pass: 1, Broken: len(state.broken), Dur: time.Since(startedAt)})

	passTwo := time.Now()
	broken := state.broken
	for _, p := range state.pages {
		br, _ := d.sieve.Classify(p, false)
		broken = append(broken, br...)
	}
	d.emit(progress.Event{Stage: progress.StagePassDone, Pass: 2, Broken: len(broken), Dur: time.Since(passTwo)})

	fetched := make(map[string]struct{}, len(state.pages))
	for _, p := range state.pages {
		fetched[p.URL().String()] = struct{}{}
	}
	broken = append(broken, d.sieve.Unresolved(fetched, d.settled(state))...)

	res := Result{
		CrawlID:   d.crawlID,
		Broken:    broken,
		Working:   state.working,
		Pages:     len(state.pages),
		Truncated: state.truncated,
		Duration:  time.Since(startedAt),
	}
	d.emit(progress.Event{Stage: progress.StageCrawlDone, URL: root.String(), Broken: len(res.Broken), Dur: res.Duration})
	d.logger.Info("Crawl finished",
		zap.Int("pages", res.Pages),
		zap.Int("working", len(res.Working)),
		zap.Int("broken", len(res.Broken)),
		zap.Bool("truncated", res.Truncated),
		zap.Duration("dur", res.Duration),
	)
	return res, nil
}

func (d *Director) firstPass(ctx context.Context, root *url.URL) (*firstPassState, error) {
	state := &firstPassState{seen: map[string]struct{}{root.String(): {}}}
	frontier := []queued{{url: root}}
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("crawl canceled: %w", err)
		}
		if d.maxPages > 0 && len(state.pages) >= d.maxPages {
			state.truncated = true
			d.logger.Warn("Max pages reached; stopping pass one",
				zap.Int("max_pages", d.maxPages),
				zap.Int("unvisited", len(frontier)),
			)
			break
		}
		next := frontier[0]
		frontier = frontier[1:]

		began := time.Now()
		p, err := d.fetcher.Fetch(ctx, next.url, next.referer)
		if err != nil {
			return nil, fmt.Errorf("crawl %s: %w", next.url, err)
		}
		d.emit(progress.Event{
			Stage:       progress.StagePageFetched,
			Pass:        1,
			URL:         p.URL().String(),
			StatusClass: progress.ClassifyStatus(p.StatusCode()),
			Bytes:       int64(p.Size()),
			Dur:         time.Since(began),
		})
		state.pages = append(state.pages, p)

		br, working := d.sieve.Classify(p, true)
		state.broken = append(state.broken, br...)
		state.working = append(state.working, working...)
		if p.NotFound() {
			d.logger.Debug("Page not found", zap.String("url", p.URL().String()), zap.Int("status", p.StatusCode()))
		}

		for _, link := range p.CrawlTargets() {
			key := link.String()
			if _, ok := state.seen[key]; ok {
				continue
			}
			if d.exclude.Excluded(link.Path) {
				continue
			}
			state.seen[key] = struct{}{}
			frontier = append(frontier, queued{url: link, referer: p.URL()})
		}
	}
	return state, nil
}

// settled exempts targets the crawl skipped on purpose: excluded paths, and
// pages left on the frontier when max-pages cut pass one short.
func (d *Director) settled(state *firstPassState) func(string) bool {
	return func(target string) bool {
		u, err := url.Parse(target)
		if err == nil && d.exclude.Excluded(u.Path) {
			return true
		}
		if state.truncated {
			_, queuedButUnfetched := state.seen[target]
			return queuedButUnfetched
		}
		return false
	}
}

func (d *Director) emit(evt progress.Event) {
	evt.CrawlID = progress.UUIDToBytes(d.crawlID)
	evt.TS = time.Now().UTC()
	d.emitter.Emit(evt)
}
