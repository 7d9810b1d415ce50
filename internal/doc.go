// Package internal contains helpers that are private to sessionauth: opaque
// token generation, structural validation and store-side token hashing.
//
// # What this package must NOT do
//
//   - Export types that appear in the public sessionauth API.
//   - Perform I/O.
package internal
