package page

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHTML = `<!doctype html>
<html><head><title>Guide</title></head>
<body>
  <h1 id="intro">Intro</h1>
  <a name="legacy"></a>
  <a href="#intro">top</a>
  <a href="#missing">gone</a>
  <a href="#">nothing</a>
  <a href="/docs/other">other</a>
  <a href="sibling.html#setup">sibling setup</a>
  <a href="https://docs.example.com/docs/abs#Part-2">absolute</a>
  <a href="https://elsewhere.example.org/page#x">external</a>
  <a href="mailto:team@example.com">mail</a>
  <a href="javascript:void(0)">js</a>
  <a href="/docs/other?tab=1">query</a>
</body></html>`

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestNewExtractsAnchorsAndReferences(t *testing.T) {
	t.Parallel()

	target := mustURL(t, "https://docs.example.com/docs/guide.html")
	p, err := New(target, nil, http.StatusOK, "text/html; charset=utf-8", []byte(sampleHTML))
	require.NoError(t, err)

	assert.Equal(t, StatusFound, p.Status())
	assert.False(t, p.NotFound())
	assert.Nil(t, p.Referer())
	assert.Equal(t, []string{"intro", "legacy"}, p.Anchors())
	assert.Equal(t, []string{"intro", "missing"}, p.LocalFragments())
	assert.Equal(t, []FragmentRef{
		{Path: "/docs/sibling.html", Fragment: "setup"},
		{Path: "/docs/abs", Fragment: "Part-2"},
	}, p.RemoteFragments())

	links := p.LocalLinks()
	require.Len(t, links, 2)
	assert.Equal(t, "https://docs.example.com/docs/other", links[0].String())
	assert.Equal(t, "https://docs.example.com/docs/other", links[1].String())
}

func TestHasTargetForIsExact(t *testing.T) {
	t.Parallel()

	body := `<html><body><div id="Section One"></div><span id="caf%C3%A9"></span></body></html>`
	p, err := New(mustURL(t, "http://localhost/a"), nil, http.StatusOK, "text/html", []byte(body))
	require.NoError(t, err)

	assert.True(t, p.HasTargetFor("Section One"))
	assert.False(t, p.HasTargetFor("section one"))
	assert.False(t, p.HasTargetFor(" Section One"))
	assert.True(t, p.HasTargetFor("caf%C3%A9"))
	assert.False(t, p.HasTargetFor("café"))
}

func TestFragmentKeptAsWritten(t *testing.T) {
	t.Parallel()

	body := `<html><body><a href="#caf%C3%A9">a</a><a href="/b#Mixed%20Case">b</a></body></html>`
	p, err := New(mustURL(t, "http://localhost/a"), nil, http.StatusOK, "text/html", []byte(body))
	require.NoError(t, err)

	assert.Equal(t, []string{"caf%C3%A9"}, p.LocalFragments())
	assert.Equal(t, []FragmentRef{{Path: "/b", Fragment: "Mixed%20Case"}}, p.RemoteFragments())
}

func TestSameHostLinksTakeThePageScheme(t *testing.T) {
	t.Parallel()

	body := `<html><body><a href="/a">a</a><a href="http://docs.example.com/a">a</a><a href="HTTP://DOCS.EXAMPLE.COM:80/b#x">b</a></body></html>`
	p, err := New(mustURL(t, "https://docs.example.com/"), nil, http.StatusOK, "text/html", []byte(body))
	require.NoError(t, err)

	links := p.LocalLinks()
	require.Len(t, links, 2)
	assert.Equal(t, "https://docs.example.com/a", links[0].String())
	assert.Equal(t, links[0].String(), links[1].String())

	targets := p.CrawlTargets()
	require.Len(t, targets, 3)
	assert.Equal(t, "https://docs.example.com/b", targets[2].String())
}

func TestNewWithBaseResolvesAgainstBase(t *testing.T) {
	t.Parallel()

	body := `<html><body><a href="intro.html">intro</a><a href="setup.html#step-1">setup</a></body></html>`
	target := mustURL(t, "https://docs.example.com/guide")
	base := mustURL(t, "https://docs.example.com/guide/")
	p, err := NewWithBase(target, base, nil, http.StatusOK, "text/html", []byte(body))
	require.NoError(t, err)

	assert.Equal(t, "https://docs.example.com/guide", p.URL().String())
	links := p.LocalLinks()
	require.Len(t, links, 1)
	assert.Equal(t, "https://docs.example.com/guide/intro.html", links[0].String())
	assert.Equal(t, []FragmentRef{{Path: "/guide/setup.html", Fragment: "step-1"}}, p.RemoteFragments())

	offsite := mustURL(t, "https://elsewhere.example.org/guide/")
	p, err = NewWithBase(target, offsite, nil, http.StatusOK, "text/html", []byte(body))
	require.NoError(t, err)
	assert.Equal(t, "https://docs.example.com/intro.html", p.LocalLinks()[0].String())
}

func TestNotFoundPageIsNotParsed(t *testing.T) {
	t.Parallel()

	referer := mustURL(t, "http://localhost/index.html")
	p, err := New(mustURL(t, "http://localhost/missing"), referer, http.StatusNotFound, "text/html", []byte(sampleHTML))
	require.NoError(t, err)

	assert.True(t, p.NotFound())
	assert.Equal(t, http.StatusNotFound, p.StatusCode())
	assert.Equal(t, "http://localhost/index.html", p.Referer().String())
	assert.Empty(t, p.Anchors())
	assert.Empty(t, p.LocalLinks())
	assert.Empty(t, p.LocalFragments())
	assert.Empty(t, p.RemoteFragments())
}

func TestNonHTMLIsNotParsed(t *testing.T) {
	t.Parallel()

	p, err := New(mustURL(t, "http://localhost/app.css"), nil, http.StatusOK, "text/css", []byte(`a[href="#x"]{}`))
	require.NoError(t, err)
	assert.False(t, p.NotFound())
	assert.Empty(t, p.LocalFragments())
}

func TestCrawlTargetsIncludeFragmentDocuments(t *testing.T) {
	t.Parallel()

	body := `<html><body><a href="/b">b</a><a href="/c#part">c</a></body></html>`
	p, err := New(mustURL(t, "http://localhost:41722/a"), nil, http.StatusOK, "text/html", []byte(body))
	require.NoError(t, err)

	var got []string
	for _, u := range p.CrawlTargets() {
		got = append(got, u.String())
	}
	assert.Equal(t, []string{"http://localhost:41722/b", "http://localhost:41722/c"}, got)
}

func TestStatusFromCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code int
		want Status
	}{
		{http.StatusOK, StatusFound},
		{http.StatusNoContent, StatusFound},
		{http.StatusNotFound, StatusNotFound},
		{http.StatusInternalServerError, StatusNotFound},
		{http.StatusForbidden, StatusNotFound},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, StatusFromCode(tc.code), "code %d", tc.code)
	}
}

func TestCanonical(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases host", "HTTP://Docs.Example.com/Path", "http://docs.example.com/Path"},
		{"drops default port", "https://example.com:443/a", "https://example.com/a"},
		{"keeps other port", "http://localhost:41722/a", "http://localhost:41722/a"},
		{"drops fragment and query", "http://example.com/a?b=1#c", "http://example.com/a"},
		{"root path", "http://example.com", "http://example.com/"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseCanonical(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}
}
