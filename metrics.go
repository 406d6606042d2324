// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package forge

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's Prometheus instrumentation. A nil *Metrics
// is valid everywhere it's threaded through — callers that don't want
// metrics simply don't register a collector.
type Metrics struct {
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	ruleFailures  prometheus.Counter
	buildDuration prometheus.Histogram
}

// NewMetrics constructs and registers Forge's collectors against reg.
// Pass prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer to expose them on the process default
// /metrics endpoint.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forge",
			Name:      "cache_hits_total",
			Help:      "Rules whose fingerprint matched a cache entry materializable from the CAS.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forge",
			Name:      "cache_misses_total",
			Help:      "Rules whose fingerprint required a fresh Runner invocation.",
		}),
		ruleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forge",
			Name:      "rule_failures_total",
			Help:      "Rules whose recipe exited non-zero or failed post-execution validation.",
		}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "forge",
			Name:      "rule_duration_seconds",
			Help:      "Wall-clock time spent on a rule's cache probe plus execution.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.cacheHits, m.cacheMisses, m.ruleFailures, m.buildDuration)
	return m
}
