package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"
)

// BlobStore persists a rendered report and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher sends a JSON-encodable payload to a topic and returns the
// message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notification is the message the publish pipeline gates on.
type Notification struct {
	CrawlID     string    `json:"crawl_id"`
	Site        string    `json:"site"`
	Passed      bool      `json:"passed"`
	Broken      int       `json:"broken"`
	Pages       int       `json:"pages"`
	Truncated   bool      `json:"truncated"`
	ReportURI   string    `json:"report_uri,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// PublishOptions selects where a report goes. A nil Store or Publisher
// skips that step.
type PublishOptions struct {
	Store     BlobStore
	Format    Format
	Publisher Publisher
	Topic     string
}

// Publication records where a report ended up.
type Publication struct {
	ReportURI string
	MessageID string
}

// ObjectPath returns the storage path for a report rendered as format.
func ObjectPath(r *Report, format Format) string {
	return r.CrawlID.String() + "/report" + format.Extension()
}

// Publish stores the rendered report, then announces it. The notification
// carries the stored URI so consumers can fetch the full report.
func Publish(ctx context.Context, r *Report, opts PublishOptions) (Publication, error) {
	var pubn Publication
	if opts.Store != nil {
		var buf bytes.Buffer
		w, err := NewWriter(opts.Format, &buf)
		if err != nil {
			return pubn, err
		}
		if err := w.Write(r); err != nil {
			return pubn, err
		}
		uri, err := opts.Store.PutObject(ctx, ObjectPath(r, opts.Format), opts.Format.ContentType(), &buf)
		if err != nil {
			return pubn, fmt.Errorf("store report: %w", err)
		}
		pubn.ReportURI = uri
	}
	if opts.Publisher != nil {
		if opts.Topic == "" {
			return pubn, fmt.Errorf("notification topic is required")
		}
		id, err := opts.Publisher.Publish(ctx, opts.Topic, Notification{
			CrawlID:     r.CrawlID.String(),
			Site:        r.Site,
			Passed:      r.Passed(),
			Broken:      len(r.Broken),
			Pages:       r.Pages,
			Truncated:   r.Truncated,
			ReportURI:   pubn.ReportURI,
			GeneratedAt: r.GeneratedAt,
		})
		if err != nil {
			return pubn, fmt.Errorf("publish notification: %w", err)
		}
		pubn.MessageID = id
	}
	return pubn, nil
}
