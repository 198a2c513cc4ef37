// Package internal holds helpers private to storeauth: token and code
// generation for the in-memory provider and User-Agent device parsing for the
// security monitor.
//
// Sub-packages:
//
//   - loop: single-goroutine task queue used for ordered deferred work
//   - notify: bounded asynchronous delivery with drop accounting
//   - logger: zap logger construction
//   - debugapi: read-only HTTP introspection of a running controller
package internal
