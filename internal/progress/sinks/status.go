package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/linkgate/internal/progress"
)

// CrawlStatus is a point-in-time view of the most recent crawl.
type CrawlStatus struct {
	CrawlID   string         `json:"crawl_id"`
	Stage     progress.Stage `json:"stage"`
	Pass      int            `json:"pass"`
	Pages     int            `json:"pages"`
	Broken    int            `json:"broken"`
	Note      string         `json:"note,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Running reports whether the crawl has not yet finished.
func (s CrawlStatus) Running() bool {
	return s.Stage != "" && s.Stage != progress.StageCrawlDone && s.Stage != progress.StageCrawlError
}

// StatusSink folds the event stream into the latest CrawlStatus.
type StatusSink struct {
	mu      sync.RWMutex
	current CrawlStatus
	ok      bool
}

// NewStatusSink returns an empty StatusSink.
func NewStatusSink() *StatusSink {
	return &StatusSink{}
}

// Consume applies batch in order. A CRAWL_START for a different crawl
// replaces the tracked status.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		id := uuid.UUID(evt.CrawlID).String()
		if !s.ok || (evt.Stage == progress.StageCrawlStart && s.current.CrawlID != id) {
			s.current = CrawlStatus{CrawlID: id, StartedAt: evt.TS}
			s.ok = true
		}
		if s.current.CrawlID != id {
			continue
		}
		s.current.Stage = evt.Stage
		s.current.UpdatedAt = evt.TS
		switch evt.Stage {
		case progress.StagePageFetched:
			s.current.Pass = evt.Pass
			s.current.Pages++
		case progress.StagePassDone:
			s.current.Pass = evt.Pass
			s.current.Broken = evt.Broken
		case progress.StageCrawlDone:
			s.current.Broken = evt.Broken
		case progress.StageCrawlError:
			s.current.Note = evt.Note
		}
	}
	return nil
}

// Status returns the tracked status and whether any crawl has been seen.
func (s *StatusSink) Status() (CrawlStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.ok
}

// Close implements progress.Sink; it performs no action.
func (s *StatusSink) Close(context.Context) error {
	return nil
}
