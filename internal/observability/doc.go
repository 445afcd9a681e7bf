// Package observability provides structured logging and Prometheus metrics
// for the image gateway.
//
// This package implements:
//   - zap logger construction from LOG_LEVEL / LOG_FORMAT
//   - per-stage outcome counters and latency histograms for the fallback chain
//   - upstream failure counters keyed by error kind
//   - HTTP request instrumentation
package observability
