// Package session provides the Redis-backed Session Store Adapter.
//
// # Layout
//
// Each token is stored under <prefix>:t:<sha256(token)> with native expiry.
// A per-user set <prefix>:u:<user> indexes the token hashes of that user, and
// <prefix>:e:<user> holds a revocation epoch bumped by every forced logout.
// Writes and reads that span these keys run as Lua scripts so other clients
// never observe a half-inserted or half-removed token.
//
// # What this package must NOT do
//
//   - Import sessionauth (no upward imports).
//   - Persist raw tokens.
//   - Decide who may revoke what. Authorization belongs to the engine.
package session
