package redisstore

/*
Файл store.go: хранилище учета в Redis, общее для всех инстансов шлюза.

Раскладка ключей:
- ratewarden:bucket:<digest>   ZSET, score = ts ms, member = "<ts>-<uuid>"
- ratewarden:buckets           HASH digest -> "identity|endpoint" (индекс для sweep/scan)
- ratewarden:identity:<digest> SET digest-ов бакетов личности (для сброса)

Acquire: один Lua-скрипт: удаление устаревшего, подсчет и условная вставка
выполняются атомарно, поэтому два инстанса не могут одновременно пройти последний слот.
*/

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/ratewarden/internal/domain"
	"github.com/xela07ax/ratewarden/internal/governor"
	"github.com/xela07ax/ratewarden/internal/infra"
	"github.com/xela07ax/ratewarden/internal/storage"
)

// KEYS: 1 - zset бакета, 2 - индекс бакетов, 3 - set личности
// ARGV: 1 - now ms, 2 - окно ms, 3 - лимит, 4 - member, 5 - digest, 6 - "identity|endpoint", 7 - ttl ms
var acquireScript = redis.NewScript(`
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])

	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. (now - window))
	local count = redis.call('ZCARD', KEYS[1])

	local admitted = 0
	if count < limit then
		redis.call('ZADD', KEYS[1], now, ARGV[4])
		redis.call('PEXPIRE', KEYS[1], ARGV[7])
		redis.call('HSET', KEYS[2], ARGV[5], ARGV[6])
		redis.call('SADD', KEYS[3], ARGV[5])
		admitted = 1
	end

	local oldest = 0
	local first = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
	if first[2] then
		oldest = tonumber(first[2])
	end
	return {admitted, count, oldest}
`)

const scanBatch = 500

type Options struct {
	// TTL ключа бакета. Должен быть не меньше горизонта хранения, иначе статистика потеряет данные.
	// Самое длинное окно политик не больше горизонта: это проверяет governor.Config.Table.
	EntryTTL time.Duration
}

type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

var _ governor.Store = (*Store)(nil)

func New(rdb redis.UniversalClient, opts Options) *Store {
	if opts.EntryTTL <= 0 {
		opts.EntryTTL = governor.DefaultRetention
	}
	return &Store{rdb: rdb, ttl: opts.EntryTTL}
}

func (s *Store) ttlMillis(window int64) int64 {
	ttl := s.ttl.Milliseconds()
	if window > ttl {
		return window
	}
	return ttl
}

func member(ts int64) string {
	return strconv.FormatInt(ts, 10) + "-" + uuid.NewString()
}

func (s *Store) Acquire(ctx context.Context, b domain.Bucket, nowMillis int64, limit domain.Limit) (domain.Usage, error) {
	digest := storage.BucketDigest(b)
	keys := []string{
		infra.RedisBucketKey(digest),
		infra.RedisKeyBucketIndex,
		infra.RedisIdentityKey(storage.IdentityDigest(b.Identity)),
	}

	res, err := acquireScript.Run(ctx, s.rdb, keys,
		nowMillis, limit.WindowMillis(), limit.Requests,
		member(nowMillis), digest, b.String(), s.ttlMillis(limit.WindowMillis()),
	).Int64Slice()
	if err != nil {
		return domain.Usage{}, fmt.Errorf("redis acquire: %w", err)
	}
	if len(res) != 3 {
		return domain.Usage{}, fmt.Errorf("redis acquire: unexpected reply %v", res)
	}

	return domain.Usage{
		Admitted:     res[0] == 1,
		Count:        res[1],
		OldestMillis: res[2],
	}, nil
}

func (s *Store) CountSince(ctx context.Context, b domain.Bucket, sinceMillis int64) (int64, error) {
	key := infra.RedisBucketKey(storage.BucketDigest(b))
	n, err := s.rdb.ZCount(ctx, key, strconv.FormatInt(sinceMillis, 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis count: %w", err)
	}
	return n, nil
}

func (s *Store) Insert(ctx context.Context, b domain.Bucket, tsMillis int64) error {
	digest := storage.BucketDigest(b)
	key := infra.RedisBucketKey(digest)

	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(tsMillis), Member: member(tsMillis)})
	// Окна не длиннее ttl, так что ключ переживает любое окно
	pipe.PExpire(ctx, key, s.ttl)
	pipe.HSet(ctx, infra.RedisKeyBucketIndex, digest, b.String())
	pipe.SAdd(ctx, infra.RedisIdentityKey(storage.IdentityDigest(b.Identity)), digest)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis insert: %w", err)
	}
	return nil
}

func (s *Store) DeleteBefore(ctx context.Context, b domain.Bucket, beforeMillis int64) (int64, error) {
	key := infra.RedisBucketKey(storage.BucketDigest(b))
	n, err := s.rdb.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(beforeMillis, 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis delete: %w", err)
	}
	return n, nil
}

// DeleteOlderThan проходит индекс через HSCAN и чистит бакеты пачками.
// Опустевшие бакеты убираются из индекса и из множества личности.
func (s *Store) DeleteOlderThan(ctx context.Context, beforeMillis int64) (int64, error) {
	var deleted int64
	upper := "(" + strconv.FormatInt(beforeMillis, 10)

	err := s.scanIndex(ctx, func(batch map[string]domain.Bucket) error {
		pipe := s.rdb.Pipeline()
		removed := make(map[string]*redis.IntCmd, len(batch))
		left := make(map[string]*redis.IntCmd, len(batch))
		for digest := range batch {
			key := infra.RedisBucketKey(digest)
			removed[digest] = pipe.ZRemRangeByScore(ctx, key, "-inf", upper)
			left[digest] = pipe.ZCard(ctx, key)
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		var empty []string
		for digest, cmd := range removed {
			deleted += cmd.Val()
			if left[digest].Val() == 0 {
				empty = append(empty, digest)
			}
		}
		return s.forget(ctx, batch, empty)
	})
	if err != nil {
		return deleted, fmt.Errorf("redis sweep: %w", err)
	}
	return deleted, nil
}

func (s *Store) DeleteIdentity(ctx context.Context, identity, endpointKey string) (int64, error) {
	idKey := infra.RedisIdentityKey(storage.IdentityDigest(identity))
	digests, err := s.rdb.SMembers(ctx, idKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis reset: %w", err)
	}
	if endpointKey != "" {
		// бакет (identity, endpoint) ровно один
		want := storage.BucketDigest(domain.Bucket{Identity: identity, EndpointKey: endpointKey})
		digests = filter(digests, want)
	}
	if len(digests) == 0 {
		return 0, nil
	}

	pipe := s.rdb.TxPipeline()
	counts := make([]*redis.IntCmd, 0, len(digests))
	for _, d := range digests {
		key := infra.RedisBucketKey(d)
		counts = append(counts, pipe.ZCard(ctx, key))
		pipe.Del(ctx, key)
		pipe.HDel(ctx, infra.RedisKeyBucketIndex, d)
		pipe.SRem(ctx, idKey, d)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis reset: %w", err)
	}

	var deleted int64
	for _, c := range counts {
		deleted += c.Val()
	}
	return deleted, nil
}

func (s *Store) Scan(ctx context.Context, sinceMillis int64, fn func(domain.Entry) error) error {
	rng := &redis.ZRangeBy{Min: strconv.FormatInt(sinceMillis, 10), Max: "+inf"}

	return s.scanIndex(ctx, func(batch map[string]domain.Bucket) error {
		pipe := s.rdb.Pipeline()
		cmds := make(map[string]*redis.ZSliceCmd, len(batch))
		for digest := range batch {
			cmds[digest] = pipe.ZRangeByScoreWithScores(ctx, infra.RedisBucketKey(digest), rng)
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis scan: %w", err)
		}

		for digest, cmd := range cmds {
			b := batch[digest]
			for _, z := range cmd.Val() {
				if err := fn(domain.Entry{Bucket: b, TimestampMillis: int64(z.Score)}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// scanIndex отдает индекс бакетов пачками, пока курсор HSCAN не вернется в 0.
func (s *Store) scanIndex(ctx context.Context, fn func(batch map[string]domain.Bucket) error) error {
	var cursor uint64
	for {
		kv, next, err := s.rdb.HScan(ctx, infra.RedisKeyBucketIndex, cursor, "", scanBatch).Result()
		if err != nil {
			return err
		}

		batch := make(map[string]domain.Bucket, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			if b, ok := storage.ParseBucket(kv[i+1]); ok {
				batch[kv[i]] = b
			}
		}
		if len(batch) > 0 {
			if err := fn(batch); err != nil {
				return err
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// forget убирает пустые бакеты из индекса.
// Между ZCARD и HDEL бакет мог получить новую запись: тогда Acquire снова добавит его в индекс
// только при следующей вставке, а до нее запись видна лишь через ZSET. Для учета окна это не важно.
func (s *Store) forget(ctx context.Context, batch map[string]domain.Bucket, digests []string) error {
	if len(digests) == 0 {
		return nil
	}
	pipe := s.rdb.Pipeline()
	for _, d := range digests {
		pipe.HDel(ctx, infra.RedisKeyBucketIndex, d)
		pipe.SRem(ctx, infra.RedisIdentityKey(storage.IdentityDigest(batch[d].Identity)), d)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func filter(digests []string, want string) []string {
	for _, d := range digests {
		if d == want {
			return []string{d}
		}
	}
	return nil
}
