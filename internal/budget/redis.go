package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"loadout/internal/config"
)

// Keys live for two days so yesterday's ledger survives timezone stragglers
// while dead tenant-days age out on their own.
const redisKeyTTL = 48 * time.Hour

const redisReserveRetries = 5

// RedisLedger shares one budget ledger across a fleet of devices. Reservation
// uses optimistic WATCH transactions so concurrent devices cannot jointly
// exceed the caps.
type RedisLedger struct {
	client *redis.Client
}

// NewRedisLedger connects to the configured Redis instance.
func NewRedisLedger(cfg *config.Config) (*RedisLedger, error) {
	if cfg == nil || cfg.Budget.RedisAddr == "" {
		return nil, errors.New("redis ledger requires budget.redis_addr")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Budget.RedisAddr,
		Password: cfg.Budget.RedisPassword,
		DB:       cfg.Budget.RedisDB,
	})
	return &RedisLedger{client: client}, nil
}

// Close releases the Redis connection pool.
func (l *RedisLedger) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}

// Ping verifies connectivity; the daemon calls this at startup.
func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func ledgerKey(tenantID, day string) string {
	return "loadout:budget:" + tenantID + ":" + day
}

// Reserve atomically claims amountCents and one call for the tenant-day.
func (l *RedisLedger) Reserve(ctx context.Context, tenantID, day string, amountCents, costCapCents int64, requestCap int) (bool, Usage, error) {
	key := ledgerKey(tenantID, day)
	var allowed bool
	var usage Usage

	txn := func(tx *redis.Tx) error {
		current, err := readUsage(ctx, tx, key)
		if err != nil {
			return err
		}
		usage = current

		if current.CostCents+amountCents > costCapCents || current.Count+1 > requestCap {
			allowed = false
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HIncrBy(ctx, key, "cost_cents", amountCents)
			pipe.HIncrBy(ctx, key, "call_count", 1)
			pipe.Expire(ctx, key, redisKeyTTL)
			return nil
		})
		if err != nil {
			return err
		}
		allowed = true
		usage.CostCents += amountCents
		usage.Count++
		return nil
	}

	for attempt := 0; attempt < redisReserveRetries; attempt++ {
		err := l.client.Watch(ctx, txn, key)
		if err == nil {
			return allowed, usage, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue // contended; re-read and retry
		}
		return false, Usage{}, fmt.Errorf("redis reserve: %w", err)
	}
	return false, Usage{}, fmt.Errorf("redis reserve: contention persisted after %d attempts", redisReserveRetries)
}

// Commit settles a reservation against the actual charge.
func (l *RedisLedger) Commit(ctx context.Context, tenantID, day string, reservedCents, actualCents int64) error {
	delta := actualCents - reservedCents
	if delta == 0 {
		return nil
	}
	if err := l.client.HIncrBy(ctx, ledgerKey(tenantID, day), "cost_cents", delta).Err(); err != nil {
		return fmt.Errorf("redis commit: %w", err)
	}
	return nil
}

// Release backs out an unused reservation.
func (l *RedisLedger) Release(ctx context.Context, tenantID, day string, amountCents int64) error {
	key := ledgerKey(tenantID, day)
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "cost_cents", -amountCents)
		pipe.HIncrBy(ctx, key, "call_count", -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

// Usage reads the current tenant-day consumption.
func (l *RedisLedger) Usage(ctx context.Context, tenantID, day string) (Usage, error) {
	usage, err := readUsage(ctx, l.client, ledgerKey(tenantID, day))
	if err != nil {
		return Usage{}, fmt.Errorf("redis usage: %w", err)
	}
	return usage, nil
}

type hashGetter interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func readUsage(ctx context.Context, client hashGetter, key string) (Usage, error) {
	fields, err := client.HGetAll(ctx, key).Result()
	if err != nil {
		return Usage{}, err
	}
	var usage Usage
	if raw, ok := fields["cost_cents"]; ok {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
			usage.CostCents = v
		}
	}
	if raw, ok := fields["call_count"]; ok {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			usage.Count = v
		}
	}
	return usage, nil
}
