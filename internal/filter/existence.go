package filter

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	bloomKey = "isbn:bloom:filter"
	setKey   = "isbn:set"

	expectedInsertions = 1_000_000
	falsePositiveRate  = "0.01"

	setTTL = 365 * 24 * time.Hour
)

// Client is the slice of go-redis the filter needs. *redis.Client
// satisfies it; tests substitute a fake.
type Client interface {
	Do(ctx context.Context, args ...interface{}) *redis.Cmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Existence answers "is this ISBN already in the catalog" two ways: a
// RedisBloom filter for the fast probabilistic check and an exact Redis set
// for the definitive one. All state lives in Redis, so every instance of
// the service shares one filter and calls are safe under concurrency.
//
// The filter is an accelerator, not an authority: every operation degrades
// to the exact set or to a safe answer rather than failing the caller.
type Existence struct {
	rdb Client
}

func NewExistence(rdb Client) *Existence {
	return &Existence{rdb: rdb}
}

// Init reserves the bloom filter if it does not exist yet. An
// already-existing filter is fine; a Redis without the RedisBloom module is
// also fine, the exact set carries the load alone in that case.
func (e *Existence) Init(ctx context.Context) {
	err := e.rdb.Do(ctx, "BF.RESERVE", bloomKey, falsePositiveRate, expectedInsertions).Err()
	switch {
	case err == nil:
		log.Printf("[Filter] Reserved bloom filter %s (capacity %d, error rate %s)",
			bloomKey, expectedInsertions, falsePositiveRate)
	case strings.Contains(err.Error(), "exists"):
		log.Printf("[Filter] Bloom filter %s already exists", bloomKey)
	default:
		log.Printf("[Filter] RedisBloom unavailable, using exact set only: %v", err)
	}
}

// MightContain reports whether the ISBN might be in the catalog. False
// means definitely absent; true can be a false positive and needs a
// definitive check before acting on it.
func (e *Existence) MightContain(ctx context.Context, isbn string) bool {
	isbn = Normalize(isbn)
	if isbn == "" {
		return false
	}

	n, err := e.rdb.Do(ctx, "BF.EXISTS", bloomKey, isbn).Int64()
	if err != nil {
		log.Printf("[Filter] BF.EXISTS failed for %s, falling back to exact set: %v", isbn, err)
		return e.DefinitelyExists(ctx, isbn)
	}
	return n == 1
}

// Add records the ISBN in both the bloom filter and the exact set. The
// bloom write is best effort; the set write is attempted regardless so the
// definitive check stays correct even without RedisBloom.
func (e *Existence) Add(ctx context.Context, isbn string) {
	isbn = Normalize(isbn)
	if isbn == "" {
		return
	}

	if err := e.rdb.Do(ctx, "BF.ADD", bloomKey, isbn).Err(); err != nil {
		log.Printf("[Filter] BF.ADD failed for %s: %v", isbn, err)
	}
	if err := e.rdb.SAdd(ctx, setKey, isbn).Err(); err != nil {
		log.Printf("[Filter] SADD failed for %s: %v", isbn, err)
		return
	}
	e.rdb.Expire(ctx, setKey, setTTL)
}

// DefinitelyExists is the exact membership check. Errors read as absent;
// the caller's database constraint is the last line of defense.
func (e *Existence) DefinitelyExists(ctx context.Context, isbn string) bool {
	isbn = Normalize(isbn)
	if isbn == "" {
		return false
	}

	ok, err := e.rdb.SIsMember(ctx, setKey, isbn).Result()
	if err != nil {
		log.Printf("[Filter] SISMEMBER failed for %s: %v", isbn, err)
		return false
	}
	return ok
}

// Normalize trims the ISBN to the canonical form used as the filter key.
func Normalize(isbn string) string {
	return strings.TrimSpace(isbn)
}
