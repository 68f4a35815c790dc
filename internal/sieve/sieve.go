// Package sieve classifies a page's outbound references into broken and
// working links. Fragment references to other documents are deferred in a
// pending index and verified on a second pass, once every page is known.
package sieve

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/JakeFAU/linkgate/internal/page"
)

var (
	// ErrMissingDomain is returned by New when no site root domain is given.
	ErrMissingDomain = errors.New("site domain is required")
	// ErrInvalidDomain is returned by New when the domain is not an absolute http(s) URL.
	ErrInvalidDomain = errors.New("site domain must be an absolute http(s) url")
)

// Document is the view of a fetched page the sieve needs.
type Document interface {
	URL() *url.URL
	Referer() *url.URL
	NotFound() bool
	LocalFragments() []string
	RemoteFragments() []page.FragmentRef
	HasTargetFor(fragment string) bool
}

// LinkRecord is one broken reference: the page that refers, and what it
// refers to. Referer is empty for the crawl root.
type LinkRecord struct {
	Referer string `json:"referer"`
	Target  string `json:"target"`
}

func (r LinkRecord) String() string {
	return locate(r.Referer, r.Target)
}

// LocalizedRef is a deferred fragment check: the page holding the
// reference and the fragment it expects on the target page.
type LocalizedRef struct {
	Referer  string
	Fragment string
}

func (r LocalizedRef) String() string {
	return locate(r.Referer, "#"+r.Fragment)
}

func locate(referer, target string) string {
	if referer == "" {
		return target
	}
	return referer + " => " + target
}

// Sieve holds the pending fragment index for one crawl.
type Sieve struct {
	domain *url.URL

	mu      sync.Mutex
	pending map[string][]LocalizedRef
	merged  map[string]struct{}
}

// New returns a Sieve that resolves remote fragment paths against domain.
func New(domain string) (*Sieve, error) {
	if domain == "" {
		return nil, ErrMissingDomain
	}
	u, err := url.Parse(domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDomain, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	return &Sieve{
		domain:  page.Canonical(u),
		pending: make(map[string][]LocalizedRef),
		merged:  make(map[string]struct{}),
	}, nil
}

// Domain returns the canonical site root.
func (s *Sieve) Domain() *url.URL {
	d := *s.domain
	return &d
}

// Classify sorts one page's references. On the first pass a NotFound page
// yields a single broken record and nothing else. Otherwise the page is a
// working link; the first pass checks its own "#name" references and the
// second pass checks references other pages deferred onto it. Remote
// fragment references are merged into the pending index on either pass.
func (s *Sieve) Classify(doc Document, firstPass bool) ([]LinkRecord, []string) {
	pageURL := doc.URL().String()

	if doc.NotFound() {
		if firstPass {
			return []LinkRecord{{Referer: urlString(doc.Referer()), Target: pageURL}}, nil
		}
		// Only reachable if a page is replayed after failing; it has no
		// anchors, so every deferred reference onto it is broken.
		return s.deferredMissingFrom(doc), nil
	}

	var broken []LinkRecord
	if firstPass {
		broken = localFragmentsMissingFrom(doc)
	} else {
		broken = s.deferredMissingFrom(doc)
	}
	s.merge(doc)
	return broken, []string{pageURL}
}

func localFragmentsMissingFrom(doc Document) []LinkRecord {
	pageURL := doc.URL().String()
	var broken []LinkRecord
	for _, fragment := range doc.LocalFragments() {
		if !doc.HasTargetFor(fragment) {
			broken = append(broken, LinkRecord{Referer: pageURL, Target: "#" + fragment})
		}
	}
	return broken
}

func (s *Sieve) deferredMissingFrom(doc Document) []LinkRecord {
	pageURL := doc.URL().String()
	s.mu.Lock()
	refs := append([]LocalizedRef(nil), s.pending[pageURL]...)
	s.mu.Unlock()

	var broken []LinkRecord
	for _, ref := range refs {
		if !doc.HasTargetFor(ref.Fragment) {
			broken = append(broken, LinkRecord{Referer: ref.Referer, Target: pageURL + "#" + ref.Fragment})
		}
	}
	return broken
}

// merge files every remote fragment reference on doc under its target
// page. A page is merged at most once, so replaying it is harmless.
func (s *Sieve) merge(doc Document) {
	referer := doc.URL().String()
	refs := doc.RemoteFragments()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.merged[referer]; done {
		return
	}
	s.merged[referer] = struct{}{}
	for _, ref := range refs {
		target := s.targetFor(ref.Path)
		s.pending[target] = append(s.pending[target], LocalizedRef{Referer: referer, Fragment: ref.Fragment})
	}
}

func (s *Sieve) targetFor(path string) string {
	t := s.domain.ResolveReference(&url.URL{Path: path})
	return page.Canonical(t).String()
}

// Pending returns a copy of the references deferred onto target.
func (s *Sieve) Pending(target string) []LocalizedRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LocalizedRef(nil), s.pending[target]...)
}

// Unresolved reports, as broken, every deferred reference whose target page
// was never classified. settled lets the caller exempt targets it
// deliberately skipped; it may be nil. Output is ordered by target URL.
func (s *Sieve) Unresolved(fetched map[string]struct{}, settled func(target string) bool) []LinkRecord {
	s.mu.Lock()
	targets := make([]string, 0, len(s.pending))
	for target := range s.pending {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	snapshot := make(map[string][]LocalizedRef, len(targets))
	for _, target := range targets {
		snapshot[target] = append([]LocalizedRef(nil), s.pending[target]...)
	}
	s.mu.Unlock()

	var broken []LinkRecord
	for _, target := range targets {
		if _, ok := fetched[target]; ok {
			continue
		}
		if settled != nil && settled(target) {
			continue
		}
		for _, ref := range snapshot[target] {
			broken = append(broken, LinkRecord{Referer: ref.Referer, Target: target + "#" + ref.Fragment})
		}
	}
	return broken
}

func urlString(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}
