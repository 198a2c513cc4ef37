// Package prometheus exposes storeauth controller metrics to Prometheus,
// either as a standalone text handler or as a client_golang Collector for an
// existing registry.
package prometheus
