// Package registry provides the in-process Token Registry: a striped
// readers-writer guard that serializes structural mutation of the token set.
//
// Keys are hashed onto a fixed set of stripes. Each stripe is a weighted
// semaphore, so an exclusive hold excludes every shared hold on the same stripe
// and waiters are served in arrival order. Acquisition waits at most
// [Config.AcquireTimeout]; running out surfaces as [ErrUnavailable].
//
// # What this package must NOT do
//
//   - Perform store I/O or know about tokens beyond their string keys.
//   - Block a caller past its context deadline.
package registry
