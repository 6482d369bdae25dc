package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmylchreest/pawtalk-api/internal/models"
)

// RedisLedgerStore implements LedgerStore on Redis hashes. Idle entries expire
// through key TTLs rather than a sweep, so Cleanup has nothing to do.
//
//	<prefix>free:<identity>    -> {last: unix millis, count}
//	<prefix>credits:<identity> -> {credits, updated: unix millis}
type RedisLedgerStore struct {
	client     *redis.Client
	prefix     string
	freeTTL    time.Duration
	emptyTTL   time.Duration
	recordFree *redis.Script
	deduct     *redis.Script
}

// RedisLedgerConfig configures key naming and expiry.
type RedisLedgerConfig struct {
	Prefix string
	// FreeTTL is how long a free-use entry lives after its last use. Must be at
	// least the cooldown window or users regain free use early.
	FreeTTL time.Duration
	// EmptyTTL is how long a zero balance is kept before expiring.
	EmptyTTL time.Duration
}

const recordFreeScript = `
local last = tonumber(redis.call('HGET', KEYS[1], 'last') or '0')
local at = tonumber(ARGV[1])
if at > last then
    redis.call('HSET', KEYS[1], 'last', ARGV[1])
end
redis.call('HINCRBY', KEYS[1], 'count', 1)
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[2]))
return 1
`

const deductScript = `
local balance = tonumber(redis.call('HGET', KEYS[1], 'credits') or '0')
local amount = tonumber(ARGV[1])
if balance < amount then
    return {0, balance}
end
balance = redis.call('HINCRBY', KEYS[1], 'credits', -amount)
redis.call('HSET', KEYS[1], 'updated', ARGV[2])
if balance == 0 then
    redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
end
return {1, balance}
`

// NewRedisLedgerStore creates a ledger store on an existing client.
func NewRedisLedgerStore(client *redis.Client, cfg RedisLedgerConfig) *RedisLedgerStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "pawtalk:ledger:"
	}
	return &RedisLedgerStore{
		client:     client,
		prefix:     cfg.Prefix,
		freeTTL:    cfg.FreeTTL,
		emptyTTL:   cfg.EmptyTTL,
		recordFree: redis.NewScript(recordFreeScript),
		deduct:     redis.NewScript(deductScript),
	}
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisLedgerStore) freeKey(identity string) string    { return s.prefix + "free:" + identity }
func (s *RedisLedgerStore) creditsKey(identity string) string { return s.prefix + "credits:" + identity }

func (s *RedisLedgerStore) GetFreeUse(ctx context.Context, identity string) (*models.AccessEntry, error) {
	vals, err := s.client.HGetAll(ctx, s.freeKey(identity)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get access entry: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}

	last, _ := strconv.ParseInt(vals["last"], 10, 64)
	count, _ := strconv.Atoi(vals["count"])
	return &models.AccessEntry{
		Identity:             identity,
		LastFreeGenerationAt: time.UnixMilli(last).UTC(),
		FreeGenerationCount:  count,
	}, nil
}

func (s *RedisLedgerStore) RecordFreeUse(ctx context.Context, identity string, at time.Time) error {
	err := s.recordFree.Run(ctx, s.client,
		[]string{s.freeKey(identity)},
		at.UnixMilli(), ttlSeconds(s.freeTTL),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to record free use: %w", err)
	}
	return nil
}

func (s *RedisLedgerStore) GetCredits(ctx context.Context, identity string) (int, error) {
	credits, err := s.client.HGet(ctx, s.creditsKey(identity), "credits").Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get credits: %w", err)
	}
	return credits, nil
}

func (s *RedisLedgerStore) AddCredits(ctx context.Context, identity string, amount int, at time.Time) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	key := s.creditsKey(identity)

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, key, "credits", int64(amount))
		pipe.HSet(ctx, key, "updated", at.UnixMilli())
		pipe.Persist(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add credits: %w", err)
	}
	return int(incr.Val()), nil
}

func (s *RedisLedgerStore) DeductCredits(ctx context.Context, identity string, amount int, at time.Time) (bool, error) {
	res, err := s.deduct.Run(ctx, s.client,
		[]string{s.creditsKey(identity)},
		amount, at.UnixMilli(), ttlSeconds(s.emptyTTL),
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("failed to deduct credits: %w", err)
	}
	return len(res) > 0 && res[0] == 1, nil
}

// Cleanup is a no-op: free entries and empty balances carry TTLs.
func (s *RedisLedgerStore) Cleanup(context.Context, time.Time, time.Time) (LedgerCleanupResult, error) {
	return LedgerCleanupResult{}, nil
}

func ttlSeconds(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
