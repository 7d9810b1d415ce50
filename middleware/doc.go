// Package middleware adapts sessionauth token checks to net/http.
//
//   - [RequireToken] accepts any live token.
//   - [RequireAdmin] additionally requires the admin role, read fresh per request.
//
// Both read the Authorization header, delegate the decision to the engine and
// store the resolved identity and the token in the request context. The
// caller's address is attached for audit events.
package middleware
