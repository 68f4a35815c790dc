package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nao1215/markdown"
)

// MarkdownWriter renders the report as GitHub-flavored Markdown, suitable
// for a pull request comment or a job summary.
type MarkdownWriter struct {
	output io.Writer
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to w.
func NewMarkdownWriter(w io.Writer) *MarkdownWriter {
	return &MarkdownWriter{output: w}
}

// Write implements Writer.
func (w *MarkdownWriter) Write(r *Report) error {
	md := markdown.NewMarkdown(w.output)
	md.H1("Link Check Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Site", "`" + r.Site + "`"},
			{"Crawl ID", "`" + r.CrawlID.String() + "`"},
			{"Generated", r.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
			{"Pages Crawled", strconv.Itoa(r.Pages)},
			{"Working Links", strconv.Itoa(len(r.Working))},
			{"Broken Links", strconv.Itoa(len(r.Broken))},
		},
	})
	md.PlainText("")

	switch {
	case !r.Passed():
		md.Cautionf("%d broken link(s) found. Publication is blocked until they are fixed.", len(r.Broken))
	case r.Truncated:
		md.Warningf("No broken links found, but the crawl stopped at the page limit.")
	default:
		md.Tip("No broken links found.")
	}
	md.PlainText("")

	md.H2("Broken Links")
	md.PlainText("")
	if r.Passed() {
		md.PlainText("None.")
	} else {
		rows := make([][]string, 0, len(r.Broken))
		for _, rec := range r.Broken {
			referer := rec.Referer
			if referer == "" {
				referer = "(crawl root)"
			}
			rows = append(rows, []string{"`" + referer + "`", "`" + rec.Target + "`"})
		}
		md.Table(markdown.TableSet{Header: []string{"Referer", "Target"}, Rows: rows})
	}
	md.PlainText("")

	if err := md.Build(); err != nil {
		return fmt.Errorf("build markdown report: %w", err)
	}
	return nil
}
