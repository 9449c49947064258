package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock stayed held by another owner until ctx expired.
var ErrNotAcquired = errors.New("lock: not acquired")

// releaseScript deletes the key only while it still carries the caller's token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// renewScript extends the lease only while the key still carries the caller's token.
const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`

// redisClient is the subset of *redis.Client the lock uses.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisOptions configures a Redis lock.
type RedisOptions struct {
	// Prefix is prepended to every key, default "fleet:lock:vehicle:".
	Prefix string
	// TTL bounds how long a crashed holder keeps the lock, default 30s.
	// A live holder renews the lease every TTL/3 until it unlocks.
	TTL time.Duration
	// RetryInterval is the wait between acquisition attempts, default 50ms.
	RetryInterval time.Duration
	// Logger receives renewal and release failures, default slog.Default().
	Logger *slog.Logger
}

// Redis is a cross-process lock built on SET NX PX with a token-checked release.
type Redis struct {
	client redisClient
	opts   RedisOptions
}

// NewRedis wraps an existing client.
func NewRedis(client redisClient, opts RedisOptions) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = "fleet:lock:vehicle:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 50 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Redis{client: client, opts: opts}
}

// DialRedis connects to the server at url (redis://...) and verifies it answers.
func DialRedis(ctx context.Context, url string, opts RedisOptions) (*Redis, *redis.Client, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, opts), client, nil
}

// Lock polls until the key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := r.opts.Prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.opts.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", redisKey, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(r.opts.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, redisKey, ctx.Err())
		case <-timer.C:
		}
	}

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go r.renew(redisKey, token, stop, renewed)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-renewed
			// Release must survive a canceled request context.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := r.client.Eval(releaseCtx, releaseScript, []string{redisKey}, token).Err(); err != nil {
				r.opts.Logger.Warn("failed to release lock, it expires with its lease", "key", redisKey, "ttl", r.opts.TTL, "error", err)
			}
		})
	}, nil
}

// renew keeps the lease alive until stop is closed or the key is taken by another owner.
func (r *Redis) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := r.opts.TTL / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		n, err := r.client.Eval(ctx, renewScript, []string{key}, token, r.opts.TTL.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil:
			r.opts.Logger.Warn("failed to renew lock", "key", key, "error", err)
		case n == 0:
			r.opts.Logger.Error("lock lease lost before release", "key", key)
			return
		}
	}
}
