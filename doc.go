// Package sessionauth is an authentication authority built on opaque session
// tokens. Accounts live in a relational credential store (Postgres or SQLite);
// tokens live in Redis as records keyed by their SHA-256 hash.
//
// Engine methods are safe to call from multiple goroutines once the Engine is
// returned by [Open] or [Builder.Build].
//
// # Architecture boundaries
//
// sessionauth is the public surface. It exposes [Engine], [Builder], [Config],
// the error taxonomy and value types such as [Identity] and [UserUpdate].
// Storage lives in the credential and session packages, the in-process token
// registry in registry, hashing in password.
//
// # Revocation
//
// Every account has a revocation epoch in the session store. Forced logouts
// delete the account's tokens and bump the epoch in one atomic step; a token
// is only written while the epoch it was issued under is current. A login that
// races a forced logout therefore never leaves a surviving token behind.
//
// # Errors
//
// Callers match sentinels with errors.Is. Store failures are *StoreError and
// never carry driver text in their message. Before answering an outside
// caller, pass errors through [Collapse] so that unknown users and bad
// passwords, and malformed and unknown tokens, look the same.
//
// # Performance contract
//
// VerifyToken is the hot path: one Redis round-trip, no registry hold. Login
// costs one argon2id verification, two database reads and two Redis
// round-trips.
package sessionauth
