package report

import (
	"bufio"
	"fmt"
	"io"
)

// TextWriter prints the broken list one record per line, followed by a
// summary. It is the default console output of the check command.
type TextWriter struct {
	output io.Writer
}

// NewTextWriter creates a TextWriter that outputs to w.
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{output: w}
}

// Write implements Writer.
func (w *TextWriter) Write(r *Report) error {
	bw := bufio.NewWriter(w.output)
	if r.Passed() {
		fmt.Fprintf(bw, "No broken links on %s\n", r.Site)
	} else {
		fmt.Fprintf(bw, "Broken links on %s:\n", r.Site)
		for _, rec := range r.Broken {
			fmt.Fprintf(bw, "  %s\n", rec)
		}
	}
	fmt.Fprintf(bw, "\n%d pages crawled, %d working, %d broken", r.Pages, len(r.Working), len(r.Broken))
	if r.Truncated {
		fmt.Fprint(bw, " (stopped at page limit)")
	}
	fmt.Fprintln(bw)
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write text report: %w", err)
	}
	return nil
}
