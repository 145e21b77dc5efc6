// Package prometheus exposes authcore metrics through client_golang.
//
// [Collector] implements prometheus.Collector by reading
// Engine.MetricsSnapshot on every scrape. Counters are named
// authcore_*_total; the authorization latency histogram is
// authcore_authorize_latency_seconds. Register the Collector on any
// registry, or mount [Handler] which uses a private one.
package prometheus
