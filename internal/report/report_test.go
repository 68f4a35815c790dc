package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkgate/internal/crawl"
	"github.com/JakeFAU/linkgate/internal/publisher/memory"
	"github.com/JakeFAU/linkgate/internal/sieve"
	"github.com/JakeFAU/linkgate/internal/storage/local"
)

var testCrawlID = uuid.MustParse("9b2e4c1a-7d3f-4e8b-a5c6-0f1e2d3c4b5a")

func sampleReport(broken ...sieve.LinkRecord) *Report {
	return New("https://docs.example.com", crawl.Result{
		CrawlID: testCrawlID,
		Broken:  broken,
		Working: []string{"https://docs.example.com/", "https://docs.example.com/a"},
		Pages:   3,
	}, time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC))
}

var brokenRecords = []sieve.LinkRecord{
	{Referer: "https://docs.example.com/a", Target: "#missing"},
	{Referer: "https://docs.example.com/", Target: "https://docs.example.com/gone"},
}

func TestNewNormalizesNilSlices(t *testing.T) {
	t.Parallel()

	r := New("s", crawl.Result{}, time.Now())
	assert.NotNil(t, r.Broken)
	assert.NotNil(t, r.Working)
	assert.True(t, r.Passed())
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"TEXT", FormatText, false},
		{"json", FormatJSON, false},
		{"md", FormatMarkdown, false},
		{"markdown", FormatMarkdown, false},
		{"xml", "", true},
	}
	for _, tc := range tests {
		got, err := ParseFormat(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestTextWriter(t *testing.T) {
	t.Parallel()

	t.Run("lists broken links", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, NewTextWriter(&buf).Write(sampleReport(brokenRecords...)))
		out := buf.String()
		assert.Contains(t, out, "Broken links on https://docs.example.com:")
		assert.Contains(t, out, "  https://docs.example.com/a => #missing\n")
		assert.Contains(t, out, "  https://docs.example.com/ => https://docs.example.com/gone\n")
		assert.Contains(t, out, "3 pages crawled, 2 working, 2 broken")
	})

	t.Run("clean site", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		r := sampleReport()
		r.Truncated = true
		require.NoError(t, NewTextWriter(&buf).Write(r))
		assert.Contains(t, buf.String(), "No broken links on https://docs.example.com")
		assert.Contains(t, buf.String(), "(stopped at page limit)")
	})
}

func TestJSONWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, NewJSONWriter(&buf).Write(sampleReport(brokenRecords...)))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, testCrawlID.String(), decoded["crawl_id"])
	assert.Equal(t, float64(3), decoded["pages"])
	broken, ok := decoded["broken"].([]any)
	require.True(t, ok)
	require.Len(t, broken, 2)
	assert.Equal(t, map[string]any{"referer": "https://docs.example.com/a", "target": "#missing"}, broken[0])
}

func TestMarkdownWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, NewMarkdownWriter(&buf).Write(sampleReport(brokenRecords...)))
	out := buf.String()
	assert.Contains(t, out, "# Link Check Report")
	assert.Contains(t, out, "## Broken Links")
	assert.Contains(t, out, "[!CAUTION]")
	assert.Contains(t, out, "`#missing`")

	buf.Reset()
	require.NoError(t, NewMarkdownWriter(&buf).Write(sampleReport()))
	assert.Contains(t, buf.String(), "[!TIP]")
	assert.Contains(t, buf.String(), "None.")
}

func TestNewWriterUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := NewWriter("yaml", &bytes.Buffer{})
	require.Error(t, err)
}

func TestPublish(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	pub := memory.New()

	r := sampleReport(brokenRecords...)
	got, err := Publish(context.Background(), r, PublishOptions{
		Store:     store,
		Format:    FormatJSON,
		Publisher: pub,
		Topic:     "link-checks",
	})
	require.NoError(t, err)
	assert.Equal(t, "file://"+dir+"/"+testCrawlID.String()+"/report.json", got.ReportURI)
	assert.Equal(t, "memory-1", got.MessageID)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "link-checks", msgs[0].Topic)
	n, ok := msgs[0].Payload.(Notification)
	require.True(t, ok)
	assert.False(t, n.Passed)
	assert.Equal(t, 2, n.Broken)
	assert.Equal(t, got.ReportURI, n.ReportURI)
}

func TestPublishSkipsUnsetSteps(t *testing.T) {
	t.Parallel()

	got, err := Publish(context.Background(), sampleReport(), PublishOptions{})
	require.NoError(t, err)
	assert.Equal(t, Publication{}, got)
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	_, err := Publish(context.Background(), sampleReport(), PublishOptions{Publisher: pub})
	require.Error(t, err, "topic is required")

	boom := errors.New("unavailable")
	pub.FailWith(boom)
	_, err = Publish(context.Background(), sampleReport(), PublishOptions{Publisher: pub, Topic: "t"})
	require.ErrorIs(t, err, boom)
}
