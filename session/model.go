package session

import "time"

// Record is the session-store view of one issued token.
//
// Times are unix milliseconds. ExpiresAt is zero for tokens that never expire.
type Record struct {
	UserID    string
	Email     string
	Epoch     uint64
	IssuedAt  int64
	ExpiresAt int64
}

// Expired reports whether the record is past its absolute expiry at now.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != 0 && now.UnixMilli() >= r.ExpiresAt
}

// ExpiresAtTime returns the expiry as a time.Time, or the zero value.
func (r *Record) ExpiresAtTime() time.Time {
	if r.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.ExpiresAt)
}
