// Package monitor records security-relevant events in a bounded in-memory log
// and derives coarse suspicion verdicts from it.
//
// The log is a fixed-capacity ring buffer: once full, each new event evicts
// the oldest one. Because device recognition is a presence check over that
// buffer, a device whose new_device_login event has been evicted is reported
// as new again.
//
// Notifications are delivered asynchronously through a [Notifier]; delivery
// failures are logged and counted, never returned.
package monitor
