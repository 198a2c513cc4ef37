// Package notify delivers security notifications asynchronously on a best-effort basis.
//
// [Dispatcher] buffers items for a single worker that hands them to a [Sink].
// When the buffer is full it either drops the item or blocks the emitter,
// depending on Config. Sinks include a channel, JSON lines, a no-op and a func adapter.
//
// Deciding which notifications to send is the security monitor's job. Delivery
// errors go to the onError callback and are never returned to the emitter.
// This package does not import storeauth or any sibling internal package.
package notify
