package mirror

import (
	"context"

	"github.com/cfoust/tether/pkg/config"

	"github.com/go-redis/redis/v9"
)

// RedisWriter applies batches through a single pipeline per batch.
type RedisWriter struct {
	client *redis.Client
}

func NewRedisWriter(settings config.RedisSettings) *RedisWriter {
	return &RedisWriter{
		client: redis.NewClient(&redis.Options{
			Addr:     settings.Address,
			Password: settings.Password,
			DB:       settings.DB,
		}),
	}
}

func (r *RedisWriter) Write(ctx context.Context, batch Batch) error {
	pipe := r.client.Pipeline()
	for _, entry := range batch.Set {
		pipe.Set(ctx, entry.Key, entry.Value, 0)
	}
	if len(batch.Delete) > 0 {
		pipe.Del(ctx, batch.Delete...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisWriter) Get(ctx context.Context, key string) ([]byte, error) {
	return r.client.Get(ctx, key).Bytes()
}

func (r *RedisWriter) Close() error {
	return r.client.Close()
}
