// Package metrics publishes engine and checkpoint counters through
// expvar. The server renders them in Prometheus text format.
package metrics
