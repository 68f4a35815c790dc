// Package page models one fetched site resource and extracts the anchors,
// links, and fragment references the link sieve works from.
package page

import (
	"bytes"
	"fmt"
	"mime"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Status is the coarse reachability of a fetched page.
type Status string

// Page statuses.
const (
	StatusFound    Status = "found"
	StatusNotFound Status = "not_found"
)

// StatusFromCode maps an HTTP status code to a Status. Only 2xx is Found.
func StatusFromCode(code int) Status {
	if code >= 200 && code < 300 {
		return StatusFound
	}
	return StatusNotFound
}

// FragmentRef is a reference to an anchor on another document of the site.
type FragmentRef struct {
	// Path is the absolute path of the target document.
	Path string
	// Fragment is the anchor name exactly as written in the href.
	Fragment string
}

// Page is an immutable view of one fetched resource.
type Page struct {
	url *url.URL
	// base resolves relative hrefs. It differs from url when the server
	// redirected, e.g. "/guide" to "/guide/".
	base       *url.URL
	referer    *url.URL
	status     Status
	statusCode int
	size       int

	anchors         map[string]struct{}
	localLinks      []*url.URL
	localFragments  []string
	remoteFragments []FragmentRef
}

// New builds a Page for target. The body is only parsed when the status is
// Found and the content type is HTML; a NotFound page never carries links.
func New(target, referer *url.URL, statusCode int, contentType string, body []byte) (*Page, error) {
	return NewWithBase(target, target, referer, statusCode, contentType, body)
}

// NewWithBase is New for a page whose body was served from base, the URL
// the request ended at after redirects. target stays the page's identity;
// relative hrefs resolve against base. A nil base or one on another host
// falls back to target.
func NewWithBase(target, base, referer *url.URL, statusCode int, contentType string, body []byte) (*Page, error) {
	if target == nil {
		return nil, fmt.Errorf("page url is required")
	}
	canonical := Canonical(target)
	resolveFrom := canonical
	if base != nil && sameHost(base, canonical) {
		resolveFrom = Canonical(base)
		resolveFrom.Scheme = canonical.Scheme
		resolveFrom.Host = canonical.Host
	}
	p := &Page{
		url:        canonical,
		base:       resolveFrom,
		referer:    Canonical(referer),
		status:     StatusFromCode(statusCode),
		statusCode: statusCode,
		size:       len(body),
		anchors:    make(map[string]struct{}),
	}
	if p.status != StatusFound || !isHTML(contentType, body) {
		return p, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html %s: %w", p.url, err)
	}
	p.extract(doc)
	return p, nil
}

func (p *Page) extract(doc *goquery.Document) {
	doc.Find("[id]").Each(func(_ int, s *goquery.Selection) {
		if id, ok := s.Attr("id"); ok && id != "" {
			p.anchors[id] = struct{}{}
		}
	})
	doc.Find("a[name]").Each(func(_ int, s *goquery.Selection) {
		if name, ok := s.Attr("name"); ok && name != "" {
			p.anchors[name] = struct{}{}
		}
	})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		p.classifyHref(strings.TrimSpace(href))
	})
}

func (p *Page) classifyHref(href string) {
	if href == "" {
		return
	}
	fragment, hasFragment := rawFragment(href)
	if strings.HasPrefix(href, "#") {
		if fragment != "" {
			p.localFragments = append(p.localFragments, fragment)
		}
		return
	}
	ref, err := url.Parse(href)
	if err != nil {
		return
	}
	resolved := p.base.ResolveReference(ref)
	if !isWebScheme(resolved) || !sameHost(resolved, p.url) {
		return
	}
	// One document, one key: an http link on an https site names the same page.
	resolved.Scheme = p.url.Scheme
	resolved.Host = p.url.Host
	target := Canonical(resolved)
	if hasFragment && fragment != "" {
		p.remoteFragments = append(p.remoteFragments, FragmentRef{Path: target.Path, Fragment: fragment})
		return
	}
	p.localLinks = append(p.localLinks, target)
}

// URL returns the canonical site URL of the page.
func (p *Page) URL() *url.URL { return p.url }

// Referer returns the page that first linked here, or nil for the crawl root.
func (p *Page) Referer() *url.URL { return p.referer }

// Status reports whether the page was found.
func (p *Page) Status() Status { return p.status }

// StatusCode returns the raw HTTP status code.
func (p *Page) StatusCode() int { return p.statusCode }

// NotFound reports whether the page could not be loaded.
func (p *Page) NotFound() bool { return p.status == StatusNotFound }

// Size returns the body length in bytes.
func (p *Page) Size() int { return p.size }

// HasTargetFor reports whether an element on the page is named fragment.
// Matching is exact: no trimming, case folding, or percent-decoding.
func (p *Page) HasTargetFor(fragment string) bool {
	_, ok := p.anchors[fragment]
	return ok
}

// Anchors returns the sorted anchor names found on the page.
func (p *Page) Anchors() []string {
	out := make([]string, 0, len(p.anchors))
	for a := range p.anchors {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// LocalLinks returns same-site links without fragments, in document order.
func (p *Page) LocalLinks() []*url.URL {
	return append([]*url.URL(nil), p.localLinks...)
}

// LocalFragments returns the "#name" references that target this page.
func (p *Page) LocalFragments() []string {
	return append([]string(nil), p.localFragments...)
}

// RemoteFragments returns references to anchors on other documents.
func (p *Page) RemoteFragments() []FragmentRef {
	return append([]FragmentRef(nil), p.remoteFragments...)
}

// CrawlTargets returns every page this one needs fetched: its local links
// followed by the documents its remote fragment references point at.
func (p *Page) CrawlTargets() []*url.URL {
	out := p.LocalLinks()
	for _, ref := range p.remoteFragments {
		target := *p.url
		target.Path = ref.Path
		target.RawPath = ""
		out = append(out, Canonical(&target))
	}
	return out
}

func isHTML(contentType string, body []byte) bool {
	if contentType == "" {
		return bytes.Contains(bytes.ToLower(body[:min(len(body), 512)]), []byte("<html"))
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
