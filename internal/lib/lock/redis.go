package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
)

const redisPrefix = "chatgate:lock:"

// Redis распределённые блокировки через redsync для нескольких экземпляров сервиса.
type Redis struct {
	rs     *redsync.Redsync
	expiry time.Duration
	tries  int
	log    *slog.Logger
}

// NewRedis создает Redis поверх готового клиента.
func NewRedis(client *redis.Client, expiry time.Duration, tries int, log *slog.Logger) *Redis {
	pool := goredis.NewPool(client)
	return &Redis{
		rs:     redsync.New(pool),
		expiry: expiry,
		tries:  tries,
		log:    log,
	}
}

// Lock захватывает мьютекс redsync. Ожидание прерывается отменой ctx.
func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	const op = "lock.Redis.Lock"

	m := r.rs.NewMutex(
		redisPrefix+key,
		redsync.WithExpiry(r.expiry),
		redsync.WithTries(r.tries),
	)
	if err := m.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := m.UnlockContext(ctx); err != nil {
				r.log.Warn("failed to release lock",
					slog.String("op", op),
					slog.String("key", key),
					sl.Err(err))
			}
		})
	}, nil
}
