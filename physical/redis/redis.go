package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-secure-stdlib/parseutil"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/stephnangue/jwtsecrets/logger"
	"github.com/stephnangue/jwtsecrets/physical"
)

const defaultKeyPrefix = "jwtsecrets:"

func init() {
	physical.Register("redis", func(conf map[string]string, logger *log.GatedLogger) (physical.Storage, error) {
		return NewRedisStorage(conf, logger)
	})
}

// RedisStorage stores each entry as a plain string value under
// <key_prefix>data:<key>. A sorted set at <key_prefix>index holds every
// key with score 0 so listing is a ZRANGEBYLEX over the prefix.
type RedisStorage struct {
	client    goredis.UniversalClient
	keyPrefix string
	logger    *log.GatedLogger
}

var _ physical.Storage = (*RedisStorage)(nil)

// NewRedisStorage connects using either url or address/password/db.
func NewRedisStorage(conf map[string]string, logger *log.GatedLogger) (*RedisStorage, error) {
	var opts *goredis.Options
	if raw := conf["url"]; raw != "" {
		parsed, err := goredis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		addr := conf["address"]
		if addr == "" {
			return nil, errors.New("'address' or 'url' must be set")
		}
		opts = &goredis.Options{
			Addr:     addr,
			Password: conf["password"],
		}
		if raw := conf["db"]; raw != "" {
			db, err := parseutil.ParseInt(raw)
			if err != nil {
				return nil, fmt.Errorf("failed parsing db: %w", err)
			}
			opts.DB = int(db)
		}
	}
	if raw := conf["dial_timeout"]; raw != "" {
		d, err := parseutil.ParseDurationSecond(raw)
		if err != nil {
			return nil, fmt.Errorf("failed parsing dial_timeout: %w", err)
		}
		opts.DialTimeout = d
	}

	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", opts.Addr, err)
	}

	prefix, ok := conf["key_prefix"]
	if !ok {
		prefix = defaultKeyPrefix
	}
	if logger != nil {
		logger.Debug("connected to redis", log.String("address", opts.Addr), log.String("key_prefix", prefix))
	}
	return NewWithClient(client, prefix, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client goredis.UniversalClient, keyPrefix string, logger *log.GatedLogger) *RedisStorage {
	return &RedisStorage{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

func (r *RedisStorage) dataKey(key string) string {
	return r.keyPrefix + "data:" + key
}

func (r *RedisStorage) indexKey() string {
	return r.keyPrefix + "index"
}

func (r *RedisStorage) Put(ctx context.Context, entry *physical.Entry) error {
	if err := physical.CheckKey(entry.Key); err != nil {
		return err
	}
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, r.dataKey(entry.Key), entry.Value, 0)
		pipe.ZAdd(ctx, r.indexKey(), goredis.Z{Score: 0, Member: entry.Key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put %q: %w", entry.Key, err)
	}
	return nil
}

func (r *RedisStorage) Get(ctx context.Context, key string) (*physical.Entry, error) {
	if err := physical.CheckKey(key); err != nil {
		return nil, err
	}
	value, err := r.client.Get(ctx, r.dataKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return &physical.Entry{Key: key, Value: value}, nil
}

func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	if err := physical.CheckKey(key); err != nil {
		return err
	}
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, r.dataKey(key))
		pipe.ZRem(ctx, r.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

func (r *RedisStorage) List(ctx context.Context, prefix string) ([]string, error) {
	return r.ListPage(ctx, prefix, "", -1)
}

func (r *RedisStorage) ListPage(ctx context.Context, prefix string, after string, limit int) ([]string, error) {
	if err := physical.CheckKey(prefix); err != nil {
		return nil, err
	}

	min := "-"
	max := "+"
	if prefix != "" {
		min = "[" + prefix
		max = "(" + prefix + "\xff"
	}
	keys, err := r.client.ZRangeByLex(ctx, r.indexKey(), &goredis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}
	return physical.Page(physical.Children(prefix, keys), after, limit), nil
}

// Close closes the underlying client.
func (r *RedisStorage) Close() error {
	return r.client.Close()
}
