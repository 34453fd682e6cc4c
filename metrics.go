package localagg

import "github.com/hupe1980/localagg/metrics"

// MetricsCollector receives operational metrics from every component.
// See the metrics/prometheus package for a Prometheus implementation.
type MetricsCollector = metrics.Collector

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector = metrics.Noop

// BasicMetricsCollector keeps in-memory counters.
type BasicMetricsCollector = metrics.Basic

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats = metrics.BasicStats
