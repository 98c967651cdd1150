package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"invoice-bot/api/internal/reconcile"
)

const keyPrefix = "invoice-bot"

// Redis хранит сессии в Redis в JSON с TTL, обновляемым при каждом сохранении.
// Несколько экземпляров бота делят сессии и замки чатов.
type Redis struct {
	rdb     *redis.Client
	locker  *redislock.Client
	ttl     time.Duration
	lockTTL time.Duration
	log     logrus.FieldLogger
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func NewRedis(ctx context.Context, opt RedisOptions, log logrus.FieldLogger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opt.Addr,
		Password: opt.Password,
		DB:       opt.DB,
		PoolSize: 20,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opt.Addr, err)
	}
	return &Redis{
		rdb:     rdb,
		locker:  redislock.New(rdb),
		ttl:     opt.TTL,
		lockTTL: 30 * time.Second,
		log:     log,
	}, nil
}

func sessionKey(chatID int64) string { return fmt.Sprintf("%s:session:%d", keyPrefix, chatID) }
func lockKey(chatID int64) string    { return fmt.Sprintf("%s:lock:%d", keyPrefix, chatID) }

func (r *Redis) Get(ctx context.Context, chatID int64) (*reconcile.Session, error) {
	b, err := r.rdb.Get(ctx, sessionKey(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var s reconcile.Session
	if err := json.Unmarshal(b, &s); err != nil {
		// битая запись не должна блокировать чат
		r.log.WithError(err).WithField("chat_id", chatID).Warn("drop unreadable session")
		_ = r.rdb.Del(ctx, sessionKey(chatID)).Err()
		return nil, ErrNotFound
	}
	return &s, nil
}

func (r *Redis) Save(ctx context.Context, s *reconcile.Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := r.rdb.Set(ctx, sessionKey(s.ChatID), b, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, chatID int64) error {
	if err := r.rdb.Del(ctx, sessionKey(chatID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *Redis) Lock(ctx context.Context, chatID int64) (func(), error) {
	lock, err := r.locker.Obtain(ctx, lockKey(chatID), r.lockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 100),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("chat %d is busy: %w", chatID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock: %w", err)
	}
	return func() {
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.log.WithError(err).WithField("chat_id", chatID).Warn("release chat lock")
		}
	}, nil
}

// Count: число сессий по ключам, для /stats.
func (r *Redis) Count(ctx context.Context) (int, error) {
	var (
		cursor uint64
		n      int
	)
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, keyPrefix+":session:*", 200).Result()
		if err != nil {
			return 0, err
		}
		n += len(keys)
		if next == 0 {
			return n, nil
		}
		cursor = next
	}
}

func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.rdb.Close() }
