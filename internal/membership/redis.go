package membership

import (
	"context"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"querygate/internal/config"
	"querygate/internal/logging"
	"querygate/internal/types"
)

// RedisStore keeps each namespace as a set of normalized identifiers plus a
// hash from normalized to original spelling.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// OpenRedis connects using cfg and pings the server.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, storeError("connect", "", errors.Wrapf(err, "redis %s", opts.Addr))
	}
	logging.Store("redis membership store connected: %s", opts.Addr)
	return NewRedisStore(client, cfg.KeyPrefix), nil
}

func (r *RedisStore) setKey(ns types.Namespace) string {
	return r.prefix + string(ns) + "#identifiers"
}

func (r *RedisStore) displayKey(ns types.Namespace) string {
	return r.prefix + string(ns) + "#display"
}

// SetAll replaces the namespace inside MULTI/EXEC.
func (r *RedisStore) SetAll(ctx context.Context, ns types.Namespace, ids []string) error {
	if err := checkNamespace("set_all", ns); err != nil {
		return err
	}
	normalized, originals := dedupe(ids)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.setKey(ns), r.displayKey(ns))
		if len(normalized) == 0 {
			return nil
		}
		members := make([]interface{}, len(normalized))
		display := make([]interface{}, 0, 2*len(normalized))
		for i, n := range normalized {
			members[i] = n
			display = append(display, n, originals[i])
		}
		pipe.SAdd(ctx, r.setKey(ns), members...)
		pipe.HSet(ctx, r.displayKey(ns), display...)
		return nil
	})
	if err != nil {
		return storeError("set_all", ns, err)
	}
	logging.StoreDebug("redis set_all %s: %d identifiers", ns, len(normalized))
	return nil
}

func (r *RedisStore) GetAll(ctx context.Context, ns types.Namespace) (map[string]struct{}, error) {
	if err := checkNamespace("get_all", ns); err != nil {
		return nil, err
	}
	members, err := r.client.SMembersMap(ctx, r.setKey(ns)).Result()
	if err != nil {
		return nil, storeError("get_all", ns, err)
	}
	return members, nil
}

func (r *RedisStore) AddOne(ctx context.Context, ns types.Namespace, id string) error {
	if err := checkNamespace("add_one", ns); err != nil {
		return err
	}
	n := Normalize(id)
	if n == "" {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.setKey(ns), n)
		pipe.HSet(ctx, r.displayKey(ns), n, strings.TrimSpace(id))
		return nil
	})
	return storeError("add_one", ns, err)
}

func (r *RedisStore) Exists(ctx context.Context, ns types.Namespace, id string) (bool, error) {
	if err := checkNamespace("exists", ns); err != nil {
		return false, err
	}
	ok, err := r.client.SIsMember(ctx, r.setKey(ns), Normalize(id)).Result()
	if err != nil {
		return false, storeError("exists", ns, err)
	}
	return ok, nil
}

// List returns the original spellings sorted by normalized form.
func (r *RedisStore) List(ctx context.Context, ns types.Namespace) ([]string, error) {
	if err := checkNamespace("list", ns); err != nil {
		return nil, err
	}
	display, err := r.client.HGetAll(ctx, r.displayKey(ns)).Result()
	if err != nil {
		return nil, storeError("list", ns, err)
	}
	keys := make([]string, 0, len(display))
	for k := range display {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = display[k]
	}
	return out, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
