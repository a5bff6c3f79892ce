package history

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisSettings configures the Redis history backend.
type RedisSettings struct {
	URL string `mapstructure:"redis-url"`
	// KeyPrefix is prepended to session keys. Empty keeps the legacy layout
	// of one list named after the bare user id.
	KeyPrefix    string        `mapstructure:"key-prefix"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PingAttempts int           `mapstructure:"ping-attempts"`
}

// RedisBackend stores each session as a Redis list of "<Role>: <text>" strings.
// A counter at "<list>:seq" tracks how many entries were ever pushed; the list
// itself keeps the legacy layout.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

var _ Backend = &RedisBackend{}

// NewRedisBackend wraps an existing client; the caller keeps ownership of
// connection settings but Close closes the client.
func NewRedisBackend(client redis.UniversalClient, keyPrefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: keyPrefix}
}

// DialRedisBackend parses s.URL, connects and pings with bounded exponential
// backoff before returning.
func DialRedisBackend(ctx context.Context, s RedisSettings, logger zerolog.Logger) (*RedisBackend, error) {
	if strings.TrimSpace(s.URL) == "" {
		return nil, errors.New("redis history: empty url")
	}
	opts, err := redis.ParseURL(s.URL)
	if err != nil {
		return nil, errors.Wrap(err, "redis history: parse url")
	}
	if s.Timeout > 0 {
		opts.DialTimeout = s.Timeout
		opts.ReadTimeout = s.Timeout
		opts.WriteTimeout = s.Timeout
	}
	client := redis.NewClient(opts)

	attempts := s.PingAttempts
	if attempts <= 0 {
		attempts = 1
	}
	logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("connecting to redis")
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(attempts-1)), ctx)
	err = backoff.RetryNotify(func() error {
		return client.Ping(ctx).Err()
	}, bo, func(err error, next time.Duration) {
		logger.Warn().Err(err).Dur("retry_in", next).Msg("redis ping failed")
	})
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis history: ping")
	}
	logger.Info().Str("addr", opts.Addr).Msg("redis ping successful")
	return NewRedisBackend(client, s.KeyPrefix), nil
}

func (r *RedisBackend) key(k string) string {
	return r.prefix + k
}

func (r *RedisBackend) seqKey(k string) string {
	return r.key(k) + ":seq"
}

func (r *RedisBackend) Range(ctx context.Context, key string, limit int) ([]string, int64, error) {
	var (
		seqCmd   *redis.StringCmd
		lenCmd   *redis.IntCmd
		rangeCmd *redis.StringSliceCmd
	)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		seqCmd = p.Get(ctx, r.seqKey(key))
		lenCmd = p.LLen(ctx, r.key(key))
		if limit > 0 {
			rangeCmd = p.LRange(ctx, r.key(key), int64(-limit), -1)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, errors.Wrap(err, "redis history: range")
	}
	next, err := seqCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, errors.Wrap(err, "redis history: read sequence")
	}
	if err := lenCmd.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "redis history: llen")
	}
	// Lists written before the counter existed are numbered by position.
	if n := lenCmd.Val(); n > next {
		next = n
	}
	if rangeCmd == nil {
		return []string{}, next, nil
	}
	out, err := rangeCmd.Result()
	if err != nil {
		return nil, 0, errors.Wrap(err, "redis history: lrange")
	}
	return out, next - int64(len(out)), nil
}

func (r *RedisBackend) Push(ctx context.Context, key string, entries ...string) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		values = append(values, e)
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, r.key(key), values...)
		p.IncrBy(ctx, r.seqKey(key), int64(len(entries)))
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "redis history: rpush")
	}
	return nil
}

func (r *RedisBackend) Trim(ctx context.Context, key string, limit int) error {
	if limit <= 0 {
		return r.Delete(ctx, key)
	}
	if err := r.client.LTrim(ctx, r.key(key), int64(-limit), -1).Err(); err != nil {
		return errors.Wrap(err, "redis history: ltrim")
	}
	return nil
}

// Delete drops the list but keeps the sequence counter.
func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return errors.Wrap(err, "redis history: del")
	}
	return nil
}

func (r *RedisBackend) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
