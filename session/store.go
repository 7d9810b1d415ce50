package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/sessionauth/internal"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every connectivity or command failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotFound is returned when a token is absent, expired or revoked.
var ErrNotFound = errors.New("session not found")

// ErrEpochChanged is returned by Put when the owner was force-logged-out after
// the caller read the epoch. Nothing is written.
var ErrEpochChanged = errors.New("session epoch changed")

// ErrTokenExists is returned by Put when the token is already bound. Nothing is written.
var ErrTokenExists = errors.New("session token already exists")

// KEYS[1] token key, KEYS[2] owner index, KEYS[3] owner epoch.
// ARGV[1] record, ARGV[2] expected epoch, ARGV[3] ttl ms (0 = none), ARGV[4] token hash.
const putRecordScript = `
local current = redis.call("GET", KEYS[3])
if not current then
  current = "0"
end
if current ~= ARGV[2] then
  return 0
end
local ok
if tonumber(ARGV[3]) > 0 then
  ok = redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3], "NX")
else
  ok = redis.call("SET", KEYS[1], ARGV[1], "NX")
end
if not ok then
  return 2
end
redis.call("SADD", KEYS[2], ARGV[4])
return 1
`

// KEYS[1] token key. ARGV[1] epoch key prefix.
const getRecordScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return false
end
local user_len = string.byte(data, 2)
if not user_len then
  return {data, "0"}
end
local epoch = redis.call("GET", ARGV[1] .. string.sub(data, 3, 2 + user_len))
if not epoch then
  epoch = "0"
end
return {data, epoch}
`

// KEYS[1] token key. ARGV[1] index key prefix, ARGV[2] token hash.
const deleteRecordScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
redis.call("DEL", KEYS[1])
local user_len = string.byte(data, 2)
if user_len then
  redis.call("SREM", ARGV[1] .. string.sub(data, 3, 2 + user_len), ARGV[2])
end
return 1
`

// KEYS[1] owner index, KEYS[2] owner epoch. ARGV[1] token key prefix.
const revokeUserScript = `
local members = redis.call("SMEMBERS", KEYS[1])
local removed = 0
for _, hash in ipairs(members) do
  removed = removed + redis.call("DEL", ARGV[1] .. hash)
end
redis.call("DEL", KEYS[1])
redis.call("INCR", KEYS[2])
return removed
`

var (
	putRecordLua    = redis.NewScript(putRecordScript)
	getRecordLua    = redis.NewScript(getRecordScript)
	deleteRecordLua = redis.NewScript(deleteRecordScript)
	revokeUserLua   = redis.NewScript(revokeUserScript)
)

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the Redis-backed Session Store Adapter. It is safe for concurrent use.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore creates a Store over client. prefix namespaces every key.
func NewStore(client redis.UniversalClient, prefix string, opts ...Option) *Store {
	if prefix == "" {
		prefix = "sa"
	}
	s := &Store{redis: client, prefix: prefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) tokenKeyPrefix() string { return s.prefix + ":t:" }
func (s *Store) indexKeyPrefix() string { return s.prefix + ":u:" }
func (s *Store) epochKeyPrefix() string { return s.prefix + ":e:" }

func (s *Store) tokenKey(hash string) string   { return s.tokenKeyPrefix() + hash }
func (s *Store) indexKey(userID string) string { return s.indexKeyPrefix() + userID }
func (s *Store) epochKey(userID string) string { return s.epochKeyPrefix() + userID }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

// Epoch returns the owner's current revocation epoch. Zero when never revoked.
func (s *Store) Epoch(ctx context.Context, userID string) (uint64, error) {
	v, err := s.redis.Get(ctx, s.epochKey(userID)).Uint64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, unavailable(err)
	}
	return v, nil
}

// Put binds token to rec.UserID, provided rec.Epoch is still the owner's epoch.
// The record self-deletes at rec.ExpiresAt through a native TTL.
//
//	Performance: 1 script round-trip.
func (s *Store) Put(ctx context.Context, token string, rec *Record) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	var ttlMillis int64
	if rec.ExpiresAt != 0 {
		ttlMillis = rec.ExpiresAt - s.now().UnixMilli()
		if ttlMillis < 1 {
			ttlMillis = 1
		}
	}

	hash := internal.HashToken(token)
	status, err := putRecordLua.Run(ctx, s.redis,
		[]string{s.tokenKey(hash), s.indexKey(rec.UserID), s.epochKey(rec.UserID)},
		data, strconv.FormatUint(rec.Epoch, 10), ttlMillis, hash,
	).Int64()
	if err != nil {
		return unavailable(err)
	}

	switch status {
	case 1:
		return nil
	case 0:
		return ErrEpochChanged
	default:
		return ErrTokenExists
	}
}

// Get resolves token. Absent, expired and revoked tokens all yield ErrNotFound.
// The record and the owner's epoch are read in one atomic script.
func (s *Store) Get(ctx context.Context, token string) (*Record, error) {
	hash := internal.HashToken(token)
	key := s.tokenKey(hash)

	res, err := getRecordLua.Run(ctx, s.redis, []string{key}, s.epochKeyPrefix()).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	if len(res) != 2 {
		return nil, unavailable(errors.New("unexpected script reply"))
	}
	data, _ := res[0].(string)
	epochText, _ := res[1].(string)

	rec, err := Decode([]byte(data))
	if err != nil {
		// Unreadable records cannot be trusted. Drop them with their index
		// entry and reject.
		if err := deleteRecordLua.Run(ctx, s.redis, []string{key}, s.indexKeyPrefix(), hash).Err(); err != nil {
			return nil, unavailable(err)
		}
		return nil, ErrNotFound
	}

	epoch, err := strconv.ParseUint(epochText, 10, 64)
	if err != nil || epoch != rec.Epoch {
		return nil, ErrNotFound
	}
	if rec.Expired(s.now()) {
		return nil, ErrNotFound
	}

	return rec, nil
}

// Delete removes token and its index entry. Deleting an absent token is not an
// error; the bool reports whether a record existed.
func (s *Store) Delete(ctx context.Context, token string) (bool, error) {
	hash := internal.HashToken(token)
	existed, err := deleteRecordLua.Run(ctx, s.redis,
		[]string{s.tokenKey(hash)},
		s.indexKeyPrefix(), hash,
	).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return existed == 1, nil
}

// DeleteAllForUser removes every indexed token of userID and bumps the epoch in
// one script, so a login that read the old epoch can no longer write. It returns
// the number of records removed.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	removed, err := revokeUserLua.Run(ctx, s.redis,
		[]string{s.indexKey(userID), s.epochKey(userID)},
		s.tokenKeyPrefix(),
	).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(removed), nil
}

// RewriteEmail updates the email carried by every live record of userID.
// Remaining TTLs are preserved and records deleted meanwhile stay deleted.
func (s *Store) RewriteEmail(ctx context.Context, userID, email string) error {
	hashes, err := s.redis.SMembers(ctx, s.indexKey(userID)).Result()
	if err != nil {
		return unavailable(err)
	}
	if len(hashes) == 0 {
		return nil
	}

	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = s.tokenKey(h)
	}
	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return unavailable(err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			rec, err := Decode([]byte(raw))
			if err != nil || rec.UserID != userID {
				continue
			}
			rec.Email = email
			data, err := Encode(rec)
			if err != nil {
				return err
			}
			pipe.SetArgs(ctx, keys[i], data, redis.SetArgs{Mode: "XX", KeepTTL: true})
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// ActiveTokens counts live tokens of userID and prunes index entries whose
// record already expired.
func (s *Store) ActiveTokens(ctx context.Context, userID string) (int, error) {
	indexKey := s.indexKey(userID)
	hashes, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	if len(hashes) == 0 {
		return 0, nil
	}

	pipe := s.redis.Pipeline()
	exists := make([]*redis.IntCmd, len(hashes))
	for i, h := range hashes {
		exists[i] = pipe.Exists(ctx, s.tokenKey(h))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, unavailable(err)
	}

	var (
		live  int
		stale []any
	)
	for i, cmd := range exists {
		if cmd.Val() == 1 {
			live++
			continue
		}
		stale = append(stale, hashes[i])
	}
	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, indexKey, stale...).Err(); err != nil {
			return 0, unavailable(err)
		}
	}
	return live, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), unavailable(err)
	}
	return time.Since(start), nil
}
