package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evgenyvinnik/checkout-api/internal/idempotency"
)

// RedisIdempotencyStore is the fast, authoritative dedup store. SetNX makes
// key creation a single atomic claim.
type RedisIdempotencyStore struct {
	rdb *redis.Client
}

func NewRedisIdempotencyStore(rdb *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{rdb: rdb}
}

var _ idempotency.Store = (*RedisIdempotencyStore)(nil)

func redisKey(key string) string { return "idemp:" + key }

// Both scripts compare a field of the stored JSON record and swap the
// value in one round trip, so concurrent callers cannot interleave
// between the read and the write. KEEPTTL: swaps never extend the dedup
// window.
var (
	reclaimScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then return 0 end
if cjson.decode(cur)['status'] ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2], 'KEEPTTL')
return 1`)

	updateOwnedScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then return 0 end
if cjson.decode(cur)['owner'] ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2], 'KEEPTTL')
return 1`)
)

func (s *RedisIdempotencyStore) Create(ctx context.Context, rec idempotency.Record, ttl time.Duration) (bool, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode idempotency record: %w", err)
	}
	return s.rdb.SetNX(ctx, redisKey(rec.Key), b, ttl).Result()
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*idempotency.Record, bool, error) {
	val, err := s.rdb.Get(ctx, redisKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec idempotency.Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, false, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &rec, true, nil
}

func (s *RedisIdempotencyStore) Reclaim(ctx context.Context, rec idempotency.Record) (bool, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode idempotency record: %w", err)
	}
	n, err := reclaimScript.Run(ctx, s.rdb,
		[]string{redisKey(rec.Key)}, string(idempotency.StatusFailed), b).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisIdempotencyStore) UpdateOwned(ctx context.Context, rec idempotency.Record) (bool, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode idempotency record: %w", err)
	}
	n, err := updateOwnedScript.Run(ctx, s.rdb,
		[]string{redisKey(rec.Key)}, rec.Owner, b).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisIdempotencyStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, redisKey(key)).Err()
}
