package progress

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sightline/internal/model"
)

// DefaultKeyPrefix namespaces progress keys.
const DefaultKeyPrefix = "sightline:progress:"

// RedisStore keeps progress records as JSON strings with a native expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	nowFunc func() time.Time
}

// ConnectRedis parses url, connects and verifies the connection.
func ConnectRedis(ctx context.Context, url, password string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "progress: parse redis url")
	}
	if password != "" {
		opts.Password = password
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "progress: connect to redis")
	}
	return client, nil
}

// NewRedisStore creates a RedisStore over an existing client.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, nowFunc: time.Now}
}

func (r *RedisStore) key(taskID string) string { return r.prefix + taskID }

// Put implements Store with a single SET ... EX.
func (r *RedisStore) Put(ctx context.Context, p model.Progress) error {
	stamp(&p, r.nowFunc(), r.ttl)
	data, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "progress: marshal record")
	}
	if err := r.client.Set(ctx, r.key(p.TaskID), data, r.ttl).Err(); err != nil {
		return eris.Wrapf(err, "progress: set %s", p.TaskID)
	}
	return nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, taskID string) (*model.Progress, error) {
	data, err := r.client.Get(ctx, r.key(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "progress: get %s", taskID)
	}
	var p model.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrapf(err, "progress: unmarshal %s", taskID)
	}
	return &p, nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, taskID string) error {
	if err := r.client.Del(ctx, r.key(taskID)).Err(); err != nil {
		return eris.Wrapf(err, "progress: del %s", taskID)
	}
	return nil
}

// Ping implements Pinger.
func (r *RedisStore) Ping(ctx context.Context) error {
	return eris.Wrap(r.client.Ping(ctx).Err(), "progress: ping redis")
}
