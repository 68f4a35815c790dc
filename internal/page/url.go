package page

import (
	"fmt"
	"net/url"
	"strings"
)

// Canonical returns the crawl key form of u: lowercase scheme and host,
// default ports removed, query and fragment dropped, empty path set to "/".
// The input is not modified.
func Canonical(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = strings.ToLower(c.Host)
	if c.Scheme == "http" && strings.HasSuffix(c.Host, ":80") {
		c.Host = strings.TrimSuffix(c.Host, ":80")
	}
	if c.Scheme == "https" && strings.HasSuffix(c.Host, ":443") {
		c.Host = strings.TrimSuffix(c.Host, ":443")
	}
	c.Fragment = ""
	c.RawFragment = ""
	c.RawQuery = ""
	c.ForceQuery = false
	c.User = nil
	if c.Path == "" {
		c.Path = "/"
		c.RawPath = ""
	}
	return &c
}

// ParseCanonical parses raw and returns its canonical form.
func ParseCanonical(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	return Canonical(u), nil
}

func isWebScheme(u *url.URL) bool {
	return u.Scheme == "http" || u.Scheme == "https"
}

func sameHost(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(hostWithoutDefaultPort(a), hostWithoutDefaultPort(b))
}

func hostWithoutDefaultPort(u *url.URL) string {
	host := u.Host
	switch u.Scheme {
	case "http":
		host = strings.TrimSuffix(host, ":80")
	case "https":
		host = strings.TrimSuffix(host, ":443")
	}
	return host
}

// rawFragment returns the text after the first '#' in href exactly as written.
func rawFragment(href string) (string, bool) {
	i := strings.IndexByte(href, '#')
	if i < 0 {
		return "", false
	}
	return href[i+1:], true
}
