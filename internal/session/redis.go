package session

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
)

// RedisStore 以 Redis 保存 session，讓多個實例共享登入狀態。
//
// 資料結構：
//
//	session:{id} -> HASH {username, role, created_at, last_seen}
//
// 閒置期限交給 key TTL；每次 Get 重設 TTL（不超過剩餘的絕對壽命）。
type RedisStore struct {
	client   *redis.Client
	lifetime Lifetime
	now      func() time.Time
}

// NewRedisStore 建立 Redis session 儲存
func NewRedisStore(client *redis.Client, lifetime Lifetime) *RedisStore {
	return &RedisStore{
		client:   client,
		lifetime: lifetime,
		now:      time.Now,
	}
}

func redisKey(id string) string {
	return "session:" + id
}

// ttl 計算下一次的 key 存活時間
func (s *RedisStore) ttl(createdAt, now time.Time) time.Duration {
	remaining := s.lifetime.MaxLifetime - now.Sub(createdAt)
	if remaining < s.lifetime.InactivityTimeout {
		return remaining
	}
	return s.lifetime.InactivityTimeout
}

// Create 建立 session
func (s *RedisStore) Create(ctx context.Context, username, role string) (*Session, error) {
	if username == "" {
		return nil, apperrors.Invalid("username is required")
	}

	now := s.now()
	sess := &Session{
		ID:        newID(),
		Username:  username,
		Role:      role,
		CreatedAt: now,
		LastSeen:  now,
	}

	key := redisKey(sess.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"username", sess.Username,
		"role", sess.Role,
		"created_at", strconv.FormatInt(now.UnixNano(), 10),
		"last_seen", strconv.FormatInt(now.UnixNano(), 10),
	)
	pipe.Expire(ctx, key, s.ttl(now, now))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, apperrors.Upstream(err, "create session")
	}

	return sess, nil
}

// Get 取得 session 並延長閒置期限
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	key := redisKey(id)
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, apperrors.Upstream(err, "load session")
	}
	if len(fields) == 0 {
		return nil, apperrors.ErrSessionNotFound
	}

	createdNano, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		// 損毀的資料直接當作不存在
		_ = s.client.Del(ctx, key).Err()
		return nil, apperrors.ErrSessionNotFound
	}
	lastNano, _ := strconv.ParseInt(fields["last_seen"], 10, 64)

	now := s.now()
	sess := &Session{
		ID:        id,
		Username:  fields["username"],
		Role:      fields["role"],
		CreatedAt: time.Unix(0, createdNano),
		LastSeen:  time.Unix(0, lastNano),
	}
	if s.lifetime.expired(sess, now) {
		_ = s.client.Del(ctx, key).Err()
		return nil, apperrors.ErrSessionNotFound
	}

	sess.LastSeen = now
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "last_seen", strconv.FormatInt(now.UnixNano(), 10))
	pipe.Expire(ctx, key, s.ttl(sess.CreatedAt, now))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, apperrors.Upstream(err, "touch session")
	}

	return sess, nil
}

// Delete 刪除 session（冪等）
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, redisKey(id)).Err(); err != nil {
		return apperrors.Upstream(err, "delete session")
	}
	return nil
}

// Sweep Redis 以 TTL 自行過期，無需掃描
func (s *RedisStore) Sweep(context.Context) (int, error) {
	return 0, nil
}
