// Package password hashes customer passwords with Argon2id for the in-memory
// identity provider.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsUpgrade] reports hashes produced with weaker parameters so the
// caller can re-hash on the next successful sign-in.
package password
