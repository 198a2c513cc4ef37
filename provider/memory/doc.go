// Package memory is an in-process identity provider implementing
// storeauth.Provider and storeauth.OTPVerifier.
//
// It keeps accounts in memory with Argon2id password hashes, issues signed
// JWT access tokens with opaque rotating refresh tokens, and delivers auth
// events to subscribers in order on the calling goroutine. One provider
// models one browser client: it holds at most one current session.
package memory
