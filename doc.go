// Package storeauth is the client-side session lifecycle and abuse-control layer
// of the storefront. It wraps a hosted identity [Provider] and a [ProfileStore]
// behind a single [Controller] that exposes one authoritative session snapshot.
//
// The Controller is safe for concurrent use after [Builder.Build]. Its state is
// driven by the provider's ordered event stream; direct operations only decide
// whether loading continues until the stream reports their outcome.
//
// # Architecture boundaries
//
// storeauth is the public surface. It exposes [Controller], [Builder], [Config],
// [Snapshot] and the error types. Attempt limiting lives in ratelimit, the
// security log in monitor, and the deferred profile loader runs on the serial
// queue from internal/loop.
//
// # What this package must NOT do
//
//   - Let any stream event clear loading that belongs to a direct call still in
//     flight.
//   - Apply a profile fetch result after a newer session event superseded it.
//   - Call the provider for a login that the limiter refused.
package storeauth
