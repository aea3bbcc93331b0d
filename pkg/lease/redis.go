package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisConfig tunes a RedisLeaser.
type RedisConfig struct {
	Prefix string
	// TTL bounds how long a crashed holder blocks others. Held leases are
	// refreshed every TTL/3.
	TTL        time.Duration
	RetryDelay time.Duration
	MaxDelay   time.Duration
}

// DefaultRedisConfig returns the default configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Prefix:     "custodyflow:lease:",
		TTL:        30 * time.Second,
		RetryDelay: 20 * time.Millisecond,
		MaxDelay:   time.Second,
	}
}

// RedisLeaser serializes holders of the same key across processes sharing a Redis.
type RedisLeaser struct {
	client redis.UniversalClient
	config RedisConfig
	logger *slog.Logger
}

// NewRedisLeaser creates a leaser on client.
func NewRedisLeaser(client redis.UniversalClient, config RedisConfig, logger *slog.Logger) *RedisLeaser {
	defaults := DefaultRedisConfig()
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}

	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}

	if config.MaxDelay < config.RetryDelay {
		config.MaxDelay = max(defaults.MaxDelay, config.RetryDelay)
	}

	return &RedisLeaser{
		client: client,
		config: config,
		logger: logger.With("module", "redis_leaser"),
	}
}

// NewRedisLeaserFromURL connects to the Redis at url (redis://host:port/db) and
// verifies the connection.
func NewRedisLeaserFromURL(ctx context.Context, url string, logger *slog.Logger) (*RedisLeaser, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return NewRedisLeaser(client, DefaultRedisConfig(), logger), nil
}

func (l *RedisLeaser) Acquire(ctx context.Context, key string) (Release, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	redisKey := l.config.Prefix + key
	token := uuid.NewString()
	delay := l.config.RetryDelay

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.config.TTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}

			return nil, fmt.Errorf("acquiring lease %s: %w", key, err)
		}

		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay = min(delay*2, l.config.MaxDelay)
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	go l.refresh(redisKey, token, stop, done)

	var once sync.Once

	return func() {
		once.Do(func() {
			close(stop)
			<-done

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err()
			if err != nil && !errors.Is(err, redis.Nil) {
				l.logger.Error("Failed to release lease", "key", key, "error", err)
			}
		})
	}, nil
}

func (l *RedisLeaser) refresh(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.config.TTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.config.TTL/3)
			err := refreshScript.Run(ctx, l.client, []string{redisKey}, token, l.config.TTL.Milliseconds()).Err()
			cancel()

			if err != nil {
				l.logger.Warn("Failed to refresh lease", "key", redisKey, "error", err)
			}
		}
	}
}

// Close closes the underlying client.
func (l *RedisLeaser) Close() error {
	return l.client.Close()
}
