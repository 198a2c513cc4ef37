// Package jwt issues and verifies the session access tokens handed out by the
// in-memory identity provider. Tokens carry the user, email and session id and
// are signed with Ed25519 or HS256.
package jwt
