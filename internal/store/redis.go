package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const mgetBatch = 500

// RedisConfig defines Redis connection settings.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	Database int
	// Namespace prefixes every key written by the driver.
	Namespace string
}

// RedisDriver stores each document as a string key and indexes the keys of
// each bucket in a sorted set so prefix scans can use ZRANGEBYLEX.
type RedisDriver struct {
	client    *redis.Client
	namespace string
}

// OpenRedis connects to Redis and verifies the connection.
func OpenRedis(cfg RedisConfig) (*RedisDriver, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.Database,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	ns := cfg.Namespace
	if ns == "" {
		ns = "vcsmine"
	}
	return &RedisDriver{client: client, namespace: ns}, nil
}

func (d *RedisDriver) docKey(bucket, key string) string {
	return d.namespace + ":doc:" + bucket + ":" + key
}

func (d *RedisDriver) indexKey(bucket string) string {
	return d.namespace + ":idx:" + bucket
}

// Get implements Driver.
func (d *RedisDriver) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	v, err := d.client.Get(ctx, d.docKey(bucket, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	return v, nil
}

// Put implements Driver.
func (d *RedisDriver) Put(ctx context.Context, bucket, key string, value []byte) error {
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, d.docKey(bucket, key), value, 0)
		pipe.ZAdd(ctx, d.indexKey(bucket), redis.Z{Score: 0, Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// putIfAbsent indexes the key and writes the document unless one is stored,
// in which case it is returned. A nil reply means the write happened.
var putIfAbsent = redis.NewScript(`
redis.call('ZADD', KEYS[2], 0, ARGV[2])
local stored = redis.call('GET', KEYS[1])
if stored then
	return stored
end
redis.call('SET', KEYS[1], ARGV[1])
return false
`)

// PutIfAbsent implements Driver with a server-side script so the document
// and its index entry are never written apart.
func (d *RedisDriver) PutIfAbsent(ctx context.Context, bucket, key string, value []byte) ([]byte, bool, error) {
	stored, err := putIfAbsent.Run(ctx, d.client,
		[]string{d.docKey(bucket, key), d.indexKey(bucket)}, value, key).Text()
	if errors.Is(err, redis.Nil) {
		return value, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return []byte(stored), false, nil
}

func (d *RedisDriver) keys(ctx context.Context, bucket, prefix string) ([]string, error) {
	by := &redis.ZRangeBy{Min: "-", Max: "+"}
	if prefix != "" {
		by.Min = "[" + prefix
		if end := prefixEnd(prefix); end != "" {
			by.Max = "(" + end
		}
	}
	return d.client.ZRangeByLex(ctx, d.indexKey(bucket), by).Result()
}

// Scan implements Driver.
func (d *RedisDriver) Scan(ctx context.Context, bucket, prefix string, fn func(string, []byte) error) error {
	keys, err := d.keys(ctx, bucket, prefix)
	if err != nil {
		return fmt.Errorf("scan %s: %w", bucket, err)
	}

	for start := 0; start < len(keys); start += mgetBatch {
		batch := keys[start:min(start+mgetBatch, len(keys))]
		docKeys := make([]string, len(batch))
		for i, k := range batch {
			docKeys[i] = d.docKey(bucket, k)
		}
		values, err := d.client.MGet(ctx, docKeys...).Result()
		if err != nil {
			return fmt.Errorf("scan %s: %w", bucket, err)
		}
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if err := fn(batch[i], []byte(s)); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeletePrefix implements Driver.
func (d *RedisDriver) DeletePrefix(ctx context.Context, bucket, prefix string) error {
	keys, err := d.keys(ctx, bucket, prefix)
	if err != nil || len(keys) == 0 {
		return err
	}
	_, err = d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members := make([]any, len(keys))
		for i, k := range keys {
			pipe.Del(ctx, d.docKey(bucket, k))
			members[i] = k
		}
		pipe.ZRem(ctx, d.indexKey(bucket), members...)
		return nil
	})
	return err
}

// Sync implements Driver. Writes are acknowledged synchronously; Sync only
// checks the connection is still healthy.
func (d *RedisDriver) Sync(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// Close closes the client.
func (d *RedisDriver) Close() error {
	return d.client.Close()
}
