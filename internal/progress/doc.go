// Package progress carries crawl milestones from the director to observers.
// Events are queued on a non-blocking hub, batched on a background goroutine,
// and handed to sinks such as structured logs or Prometheus collectors.
package progress
