// Package otel publishes storeauth controller metrics through an
// OpenTelemetry Meter. Counters become observable counters and each latency
// bucket an observable gauge, all read by one callback per collection.
package otel
