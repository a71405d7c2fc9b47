package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// keyPrefix is the Redis key prefix for sessions
	keyPrefix = "session:"

	scanBatch = 200
)

// RedisStore implements Store using Redis with per-key expiry.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

// Compile-time interface compliance check
var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a new Redis-based session store
func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// buildKey creates a Redis key from a session id
// Format: session:{id}
func buildKey(id string) string {
	return keyPrefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	payload, err := s.client.Get(ctx, buildKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		s.logger.Error("failed to load session", zap.String("session_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	sess, err := decode(payload)
	if err != nil {
		s.logger.Warn("corrupt session payload", zap.String("session_id", id), zap.Error(err))
		return nil, err
	}
	return sess, nil
}

// Save stores the session with a TTL matching its remaining lifetime.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return s.Delete(ctx, sess.ID)
	}

	payload, err := encode(sess)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, buildKey(sess.ID), payload, ttl).Err(); err != nil {
		s.logger.Error("failed to save session", zap.String("session_id", sess.ID), zap.Error(err))
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, buildKey(id)).Err(); err != nil {
		s.logger.Error("failed to delete session", zap.String("session_id", id), zap.Error(err))
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// IDs walks the keyspace with SCAN so large stores do not block Redis.
func (s *RedisStore) IDs(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan sessions: %w", err)
		}
		for _, key := range keys {
			ids = append(ids, strings.TrimPrefix(key, keyPrefix))
		}
		if next == 0 {
			return ids, nil
		}
		cursor = next
	}
}
