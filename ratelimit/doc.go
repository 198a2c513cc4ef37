// Package ratelimit implements the advisory attempt limits that guard login,
// password-reset (OTP) requests and per-challenge code verification.
//
// # Window semantics
//
//   - login: fixed window measured from the first attempt; the (max+1)th call
//     inside the window is denied until the window elapses.
//   - otp_request: cooldown measured from the last allowed request.
//   - verification: hard cap of attempts per challenge identifier.
//
// Entries idle for longer than [Config.IdleRetention] are removed by
// [Limiter.Cleanup], which the janitor started by [Limiter.StartCleanup] runs
// periodically.
//
// # Storage
//
// [MemoryStore] keeps entries in process. [RedisStore] shares them between
// instances and relies on key TTLs for idle expiry. Key prefixes:
//   - <prefix>:login:<identity>
//   - <prefix>:otp_request:<identity>
//   - <prefix>:verification:<challenge>
//
// # What this package must NOT do
//
//   - Decide what happens on a denial; callers surface [Decision] to users.
//   - Treat store failures as denials.
package ratelimit
