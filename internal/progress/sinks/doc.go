// Package sinks implements progress consumers: a structured log sink for
// operators following a crawl and a Prometheus sink backing /metrics.
package sinks
