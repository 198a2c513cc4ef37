// Package profilestore provides storeauth.ProfileStore implementations: an
// in-memory table, a PostgreSQL table with embedded migrations, and a Redis
// read-through cache that wraps either.
package profilestore
