package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps identity keys as plain Redis strings under <keyPrefix><key>.
//
// The prefix is exclusive to the owning relay process; no other writer may
// operate under it. Redis is the source of truth and nothing is cached, so a
// restart always observes the last acknowledged write.
type RedisStore struct {
	log       *zap.Logger
	rdb       *redis.Client
	keyPrefix string
}

// NewRedisStore wraps rdb. keyPrefix gets a trailing ':' when missing.
func NewRedisStore(log *zap.Logger, rdb *redis.Client, keyPrefix string) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("nil redis client")
	}
	if keyPrefix == "" {
		return nil, fmt.Errorf("invalid keyPrefix: must be non-empty")
	}
	if !strings.HasSuffix(keyPrefix, ":") {
		keyPrefix = keyPrefix + ":"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{log: log.Named("identity"), rdb: rdb, keyPrefix: keyPrefix}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	v, err := s.rdb.Get(ctx, s.keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get: %w", err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if value == "" {
		return s.Delete(ctx, key)
	}
	if err := validKey(key); err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.keyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	s.log.Debug("key stored", zap.String("key", key))
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	s.log.Debug("key deleted", zap.String("key", key))
	return nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

// NewRedisClient builds a client with the relay's pool settings and logs
// connection diagnostics once. A failed ping is not fatal; go-redis reconnects lazily.
func NewRedisClient(log *zap.Logger, addr string, db int) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
		MinIdleConns: 1,
		MaxRetries:   3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	log = log.Named("redis").With(
		zap.String("addr", addr),
		zap.Int("db", db),
	)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	elapsed := time.Since(start)

	if err != nil {
		log.Warn("connection failed", zap.Error(err), zap.Duration("ping_rtt", elapsed))
	} else {
		log.Info("connection established", zap.Duration("ping_rtt", elapsed))
	}
	return rdb
}
