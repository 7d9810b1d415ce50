package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/sessionauth/internal"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSessionStoreTest(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis, *redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb, "as", opts...)
	return store, mr, rdb, func() {
		rdb.Close()
		mr.Close()
	}
}

func testRecord(userID string, ttl time.Duration) *Record {
	now := time.Now()
	rec := &Record{
		UserID:   userID,
		Email:    userID + "@example.com",
		IssuedAt: now.UnixMilli(),
	}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl).UnixMilli()
	}
	return rec
}

func TestPutGetRoundTrip(t *testing.T) {
	store, _, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	rec := testRecord("u-1", time.Hour)
	if err := store.Put(ctx, "tok-a", rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, "tok-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != rec.UserID || got.Email != rec.Email || got.ExpiresAt != rec.ExpiresAt {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, err := store.Get(ctx, "tok-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTokenStoredUnderHashOnly(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Put(ctx, "plain-token", testRecord("u-1", time.Hour)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if mr.Exists("as:t:plain-token") {
		t.Fatal("raw token must not appear in key space")
	}
	if !mr.Exists("as:t:" + internal.HashToken("plain-token")) {
		t.Fatal("expected hashed token key")
	}
	members, err := mr.SMembers("as:u:u-1")
	if err != nil || len(members) != 1 || members[0] != internal.HashToken("plain-token") {
		t.Fatalf("unexpected index members %v err=%v", members, err)
	}
}

func TestPutRejectsDuplicateToken(t *testing.T) {
	store, _, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Put(ctx, "tok", testRecord("u-1", time.Hour)); err != nil {
		t.Fatalf("put: %v", err)
	}
	err := store.Put(ctx, "tok", testRecord("u-2", time.Hour))
	if !errors.Is(err, ErrTokenExists) {
		t.Fatalf("expected ErrTokenExists, got %v", err)
	}

	got, err := store.Get(ctx, "tok")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != "u-1" {
		t.Fatalf("existing binding overwritten: %+v", got)
	}
}

func TestPutRejectsStaleEpoch(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	epoch, err := store.Epoch(ctx, "u-1")
	if err != nil || epoch != 0 {
		t.Fatalf("initial epoch %d err=%v", epoch, err)
	}
	if _, err := store.DeleteAllForUser(ctx, "u-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	rec := testRecord("u-1", time.Hour)
	rec.Epoch = epoch
	if err := store.Put(ctx, "tok", rec); !errors.Is(err, ErrEpochChanged) {
		t.Fatalf("expected ErrEpochChanged, got %v", err)
	}
	if mr.Exists("as:t:" + internal.HashToken("tok")) {
		t.Fatal("rejected put must not write the record")
	}

	rec.Epoch = epoch + 1
	if err := store.Put(ctx, "tok", rec); err != nil {
		t.Fatalf("put with current epoch: %v", err)
	}
}

func TestGetRejectsRecordFromOlderEpoch(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Put(ctx, "tok", testRecord("u-1", time.Hour)); err != nil {
		t.Fatalf("put: %v", err)
	}
	// Simulates a revoke that ran between another writer's epoch read and its write.
	if err := mr.Set("as:e:u-1", "3"); err != nil {
		t.Fatalf("set epoch: %v", err)
	}
	if _, err := store.Get(ctx, "tok"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordExpiresWithTTL(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Put(ctx, "tok", testRecord("u-1", time.Minute)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ttl := mr.TTL("as:t:" + internal.HashToken("tok")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, "tok"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestGetChecksExpiryAgainstClock(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	store, _, _, done := newSessionStoreTest(t, WithClock(clock))
	defer done()
	ctx := context.Background()

	rec := testRecord("u-1", time.Hour)
	if err := store.Put(ctx, "tok", rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := store.Get(ctx, "tok"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound past expiry, got %v", err)
	}
}

func TestNeverExpiringRecordHasNoTTL(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Put(ctx, "tok", testRecord("u-1", 0)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ttl := mr.TTL("as:t:" + internal.HashToken("tok")); ttl != 0 {
		t.Fatalf("expected no ttl, got %v", ttl)
	}
	mr.FastForward(24 * 365 * time.Hour)
	if _, err := store.Get(ctx, "tok"); err != nil {
		t.Fatalf("get: %v", err)
	}
}

func TestDeleteIdempotentAndIndex(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Put(ctx, "tok", testRecord("u-1", time.Hour)); err != nil {
		t.Fatalf("put: %v", err)
	}
	existed, err := store.Delete(ctx, "tok")
	if err != nil || !existed {
		t.Fatalf("first delete existed=%v err=%v", existed, err)
	}
	existed, err = store.Delete(ctx, "tok")
	if err != nil || existed {
		t.Fatalf("second delete existed=%v err=%v", existed, err)
	}
	if mr.Exists("as:u:u-1") {
		t.Fatal("index must be empty after delete")
	}
	if _, err := store.Get(ctx, "tok"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetDropsUndecodableRecordAndIndex(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Put(ctx, "tok", testRecord("u-1", time.Hour)); err != nil {
		t.Fatalf("put: %v", err)
	}
	key := "as:t:" + internal.HashToken("tok")
	if err := mr.Set(key, "\x01\x03u-1garbage"); err != nil {
		t.Fatalf("corrupt record: %v", err)
	}

	if _, err := store.Get(ctx, "tok"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if mr.Exists(key) {
		t.Fatal("undecodable record must be removed")
	}
	if mr.Exists("as:u:u-1") {
		t.Fatal("index entry of undecodable record must be removed")
	}
}

func TestDeleteAllForUserScopedToOwner(t *testing.T) {
	store, _, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	for _, tok := range []string{"a1", "a2", "a3"} {
		if err := store.Put(ctx, tok, testRecord("u-a", time.Hour)); err != nil {
			t.Fatalf("put %s: %v", tok, err)
		}
	}
	if err := store.Put(ctx, "b1", testRecord("u-b", time.Hour)); err != nil {
		t.Fatalf("put b1: %v", err)
	}

	removed, err := store.DeleteAllForUser(ctx, "u-a")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
	for _, tok := range []string{"a1", "a2", "a3"} {
		if _, err := store.Get(ctx, tok); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s should be revoked, got %v", tok, err)
		}
	}
	if _, err := store.Get(ctx, "b1"); err != nil {
		t.Fatalf("other user's token revoked: %v", err)
	}

	epoch, err := store.Epoch(ctx, "u-a")
	if err != nil || epoch != 1 {
		t.Fatalf("expected epoch 1, got %d err=%v", epoch, err)
	}
	removed, err = store.DeleteAllForUser(ctx, "u-a")
	if err != nil || removed != 0 {
		t.Fatalf("second revoke removed=%d err=%v", removed, err)
	}
}

func TestRewriteEmailKeepsTTL(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Put(ctx, "t1", testRecord("u-1", time.Hour)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "t2", testRecord("u-1", 0)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "other", testRecord("u-2", time.Hour)); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := store.RewriteEmail(ctx, "u-1", "new@example.com"); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	for _, tok := range []string{"t1", "t2"} {
		rec, err := store.Get(ctx, tok)
		if err != nil {
			t.Fatalf("get %s: %v", tok, err)
		}
		if rec.Email != "new@example.com" {
			t.Fatalf("%s email not rewritten: %q", tok, rec.Email)
		}
	}
	if ttl := mr.TTL("as:t:" + internal.HashToken("t1")); ttl <= 0 {
		t.Fatalf("ttl lost on rewrite: %v", ttl)
	}
	other, err := store.Get(ctx, "other")
	if err != nil || other.Email != "u-2@example.com" {
		t.Fatalf("unrelated record touched: %+v err=%v", other, err)
	}
}

func TestRewriteEmailSkipsDeletedRecords(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Put(ctx, "t1", testRecord("u-1", time.Hour)); err != nil {
		t.Fatalf("put: %v", err)
	}
	mr.Del("as:t:" + internal.HashToken("t1"))

	if err := store.RewriteEmail(ctx, "u-1", "new@example.com"); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if mr.Exists("as:t:" + internal.HashToken("t1")) {
		t.Fatal("rewrite must not resurrect deleted record")
	}
}

func TestActiveTokensPrunesExpired(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Put(ctx, "short", testRecord("u-1", time.Minute)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "long", testRecord("u-1", time.Hour)); err != nil {
		t.Fatalf("put: %v", err)
	}

	count, err := store.ActiveTokens(ctx, "u-1")
	if err != nil || count != 2 {
		t.Fatalf("expected 2 active, got %d err=%v", count, err)
	}

	mr.FastForward(5 * time.Minute)
	count, err = store.ActiveTokens(ctx, "u-1")
	if err != nil || count != 1 {
		t.Fatalf("expected 1 active, got %d err=%v", count, err)
	}
	members, _ := mr.SMembers("as:u:u-1")
	if len(members) != 1 {
		t.Fatalf("expected pruned index, got %v", members)
	}

	count, err = store.ActiveTokens(ctx, "nobody")
	if err != nil || count != 0 {
		t.Fatalf("expected 0 for unknown user, got %d err=%v", count, err)
	}
}

func TestConcurrentPutAndRevokeLeavesNoOrphans(t *testing.T) {
	store, _, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			rec := testRecord("u-1", time.Hour)
			rec.Epoch = 0
			tok, err := internal.NewToken(internal.DefaultTokenBytes)
			if err != nil {
				t.Errorf("token: %v", err)
				return
			}
			err = store.Put(ctx, tok, rec)
			if err != nil && !errors.Is(err, ErrEpochChanged) {
				t.Errorf("put: %v", err)
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		if _, err := store.DeleteAllForUser(ctx, "u-1"); err != nil {
			t.Errorf("revoke: %v", err)
		}
	}()
	close(start)
	wg.Wait()

	// Every surviving record was written before the revoke and was removed by it,
	// or was rejected for carrying the old epoch.
	count, err := store.ActiveTokens(ctx, "u-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no orphan tokens, got %d", count)
	}
}

func TestRedisDownWrapsSentinel(t *testing.T) {
	store, mr, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	mr.Close()

	if err := store.Put(ctx, "tok", testRecord("u-1", time.Hour)); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("put: expected ErrRedisUnavailable, got %v", err)
	}
	if _, err := store.Get(ctx, "tok"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("get: expected ErrRedisUnavailable, got %v", err)
	}
	if _, err := store.Epoch(ctx, "u-1"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("epoch: expected ErrRedisUnavailable, got %v", err)
	}
	if _, err := store.Ping(ctx); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("ping: expected ErrRedisUnavailable, got %v", err)
	}
}
