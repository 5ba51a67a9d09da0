package infra

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"apikey-gateway/middleware/ratelimit/domain"
)

// RedisConfigSource guarda os valores num hash do Redis e publica cada Set num canal,
// para que outras instâncias do gateway redimensionem seus pools sem restart.
type RedisConfigSource struct {
	rdb    *redis.Client
	prefix string
}

type RedisConfigOption func(*RedisConfigSource)

func WithConfigPrefix(prefix string) RedisConfigOption {
	return func(s *RedisConfigSource) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func NewRedisConfigSource(rdb *redis.Client, opts ...RedisConfigOption) *RedisConfigSource {
	s := &RedisConfigSource{
		rdb:    rdb,
		prefix: "ratelimit:config",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisConfigSource) valuesKey() string  { return s.prefix + ":values" }
func (s *RedisConfigSource) changesChan() string { return s.prefix + ":changes" }

func (s *RedisConfigSource) Get(ctx context.Context, name string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, s.valuesKey(), name).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.ConfigSourceError.Wrap(err)
	}
	return v, true, nil
}

func (s *RedisConfigSource) Set(ctx context.Context, name, value string) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.valuesKey(), name, value)
	pipe.Publish(ctx, s.changesChan(), name+"="+value)
	_, err := pipe.Exec(ctx)
	return domain.ConfigSourceError.Wrap(err)
}

// Watch assina o canal de mudanças e chama fn para cada Set (inclusive os desta instância).
// Bloqueia até ctx encerrar.
func (s *RedisConfigSource) Watch(ctx context.Context, fn func(name, value string)) error {
	sub := s.rdb.Subscribe(ctx, s.changesChan())
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return domain.ConfigSourceError.Wrap(err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			name, value, found := strings.Cut(msg.Payload, "=")
			if !found {
				continue
			}
			fn(name, value)
		}
	}
}
