package writer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"Go2NetCache/internal/config"
	"Go2NetCache/internal/engine/cache"
	"Go2NetCache/internal/tablerr"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWriter accumulates batches into Redis hashes, one per window and
// key: <prefix><table>:<window unix>:<key>. Counters are added with
// HINCRBY so several engines may share a table.
type RedisWriter struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	tables *tablerr.Selector
	logger *zap.Logger
}

// NewRedisWriter creates a Redis writer.
func NewRedisWriter(cfg config.RedisConfig, tables *tablerr.Selector, logger *zap.Logger) (*RedisWriter, error) {
	var ttl time.Duration
	if cfg.TTL != "" {
		d, err := time.ParseDuration(cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis ttl: %w", err)
		}
		ttl = d
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	return NewRedisWriterWithClient(client, cfg.KeyPrefix, ttl, tables, logger), nil
}

// NewRedisWriterWithClient wraps an existing client.
func NewRedisWriterWithClient(client redis.UniversalClient, prefix string, ttl time.Duration, tables *tablerr.Selector, logger *zap.Logger) *RedisWriter {
	return &RedisWriter{client: client, prefix: prefix, ttl: ttl, tables: tables, logger: logger}
}

func (w *RedisWriter) Name() string { return "redis" }

func redisKey(prefix, table string, r *cache.Record) string {
	return prefix + table + ":" + strconv.FormatInt(r.Basetime.Unix(), 10) + ":" + r.Key.String()
}

// Write pipelines the batch counters, picking a table per window.
func (w *RedisWriter) Write(ctx context.Context, b *cache.Batch) error {
	if len(b.Records) == 0 {
		return nil
	}

	pipe := w.client.Pipeline()
	for _, wr := range b.Windows() {
		table := w.tables.Pick(wr.Basetime)
		for _, r := range wr.Records {
			key := redisKey(w.prefix, table, r)
			pipe.HIncrBy(ctx, key, "bytes", int64(r.Bytes))
			pipe.HIncrBy(ctx, key, "packets", int64(r.Packets))
			pipe.HIncrBy(ctx, key, "flows", int64(r.Flows))
			if w.ttl > 0 {
				pipe.Expire(ctx, key, w.ttl)
			}
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write batch to redis: %w", err)
	}

	w.logger.Debug("Wrote batch to Redis", zap.Int("records", len(b.Records)))
	return nil
}

func (w *RedisWriter) Close() error { return w.client.Close() }
