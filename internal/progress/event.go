package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the crawl milestone an Event represents.
type Stage string

// Crawl milestones in the order a healthy run emits them.
const (
	StageCrawlStart  Stage = "CRAWL_START"
	StagePageFetched Stage = "PAGE_FETCHED"
	StagePassDone    Stage = "PASS_DONE"
	StageCrawlDone   Stage = "CRAWL_DONE"
	StageCrawlError  Stage = "CRAWL_ERROR"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Status classes tracked for fetched pages.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures one step of a crawl.
type Event struct {
	// CrawlID identifies the run in 16-byte UUID form.
	CrawlID [16]byte
	// TS is the UTC time the emitter recorded the event.
	TS time.Time
	Stage Stage
	// Pass is 1 or 2 for PAGE_FETCHED and PASS_DONE, zero otherwise.
	Pass int
	// URL is the page the event concerns, in the site's URL space.
	URL         string
	StatusClass StatusClass
	Bytes       int64
	// Dur is the fetch latency, or the pass/crawl wall time.
	Dur time.Duration
	// Broken counts broken links found so far (PASS_DONE) or in total (CRAWL_DONE).
	Broken int
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CrawlID == [16]byte{} {
		return errors.New("crawl id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart, StageCrawlDone, StageCrawlError:
	case StagePageFetched:
		if e.URL == "" {
			return errors.New("page fetched requires url")
		}
		if e.StatusClass == "" {
			return errors.New("page fetched requires status class")
		}
		if e.Pass != 1 {
			return fmt.Errorf("page fetched on pass %d", e.Pass)
		}
	case StagePassDone:
		if e.Pass != 1 && e.Pass != 2 {
			return fmt.Errorf("pass done with pass %d", e.Pass)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Broken < 0 {
		return errors.New("broken count must be >= 0")
	}
	return nil
}

// CrawlUUID converts the binary crawl ID back to a uuid.UUID.
func (e Event) CrawlUUID() uuid.UUID {
	return uuid.UUID(e.CrawlID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
