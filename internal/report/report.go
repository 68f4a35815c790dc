// Package report renders a finished crawl for people and pipelines, and
// hands it to the publish pipeline: the rendered report goes to a blob
// store and a short notification goes to a message topic.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/linkgate/internal/crawl"
	"github.com/JakeFAU/linkgate/internal/sieve"
)

// Report is the serializable outcome of one crawl.
type Report struct {
	CrawlID     uuid.UUID          `json:"crawl_id"`
	Site        string             `json:"site"`
	GeneratedAt time.Time          `json:"generated_at"`
	Duration    time.Duration      `json:"duration_ns"`
	Pages       int                `json:"pages"`
	Truncated   bool               `json:"truncated"`
	Broken      []sieve.LinkRecord `json:"broken"`
	Working     []string           `json:"working"`
}

// New builds a Report from a crawl result.
func New(site string, res crawl.Result, generatedAt time.Time) *Report {
	broken := res.Broken
	if broken == nil {
		broken = []sieve.LinkRecord{}
	}
	working := res.Working
	if working == nil {
		working = []string{}
	}
	return &Report{
		CrawlID:     res.CrawlID,
		Site:        site,
		GeneratedAt: generatedAt.UTC(),
		Duration:    res.Duration,
		Pages:       res.Pages,
		Truncated:   res.Truncated,
		Broken:      broken,
		Working:     working,
	}
}

// Passed reports whether the crawl found no broken links.
func (r *Report) Passed() bool {
	return len(r.Broken) == 0
}

// Format selects a report rendering.
type Format string

// Supported formats.
const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat accepts a format name, case-insensitively. "md" is an alias
// for markdown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown report format %q", s)
	}
}

// Extension returns the file extension used when the report is stored.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatMarkdown:
		return ".md"
	default:
		return ".txt"
	}
}

// ContentType returns the MIME type used when the report is stored.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Writer renders a report to its destination.
type Writer interface {
	Write(r *Report) error
}

// NewWriter returns the Writer for format.
func NewWriter(format Format, out io.Writer) (Writer, error) {
	switch format {
	case FormatText:
		return NewTextWriter(out), nil
	case FormatJSON:
		return NewJSONWriter(out), nil
	case FormatMarkdown:
		return NewMarkdownWriter(out), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}
