package redis_cache

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/spaghettinuum/spagh/pkg/utils"
)

var nopLogger = zap.NewNop()

type RedisCacheOpts struct {
	// Client cannot be nil.
	Client redis.Cmdable

	// ClientCloser closes Client when RedisCache.Close is called.
	// Optional.
	ClientCloser io.Closer

	// ClientTimeout specifies the timeout for read and write
	// operations. Default is 1s.
	ClientTimeout time.Duration

	// A nil Logger disables logging.
	Logger *zap.Logger
}

func (opts *RedisCacheOpts) Init() error {
	if opts.Client == nil {
		return errors.New("nil client")
	}
	utils.SetDefaultNum(&opts.ClientTimeout, time.Second)
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

// RedisCache is a cache.Backend sharing negative and positive
// outcomes between resolver instances through redis. Redis outages
// never fail a query: the client disables itself and probes with
// pings until the server comes back.
type RedisCache struct {
	opts           RedisCacheOpts
	clientDisabled uint32
}

func NewRedisCache(opts RedisCacheOpts) (*RedisCache, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &RedisCache{opts: opts}, nil
}

func (r *RedisCache) disabled() bool {
	return atomic.LoadUint32(&r.clientDisabled) != 0
}

func (r *RedisCache) disableClient() {
	if atomic.CompareAndSwapUint32(&r.clientDisabled, 0, 1) {
		r.opts.Logger.Warn("redis temporarily disabled")
		go func() {
			const maxBackoff = time.Second * 30
			backoff := time.Millisecond * 100
			for {
				time.Sleep(backoff)
				ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*500)
				err := r.opts.Client.Ping(ctx).Err()
				cancel()
				if err != nil {
					if backoff >= maxBackoff {
						backoff = maxBackoff
					} else {
						backoff += time.Duration(rand.Intn(1000))*time.Millisecond + time.Second
					}
					r.opts.Logger.Warn("redis ping failed", zap.Error(err), zap.Duration("next_ping", backoff))
					continue
				}
				atomic.StoreUint32(&r.clientDisabled, 0)
				return
			}
		}()
	}
}

func (r *RedisCache) Get(key string) (v []byte, storedTime, expire int64, ok bool) {
	if r.disabled() {
		return nil, 0, 0, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	b, err := r.opts.Client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.opts.Logger.Warn("redis get", zap.Error(err))
			r.disableClient()
		}
		return nil, 0, 0, false
	}

	storedTime, expire, v, err = unpackRedisValue(b)
	if err != nil {
		r.opts.Logger.Warn("redis data unpack error", zap.Error(err))
		return nil, 0, 0, false
	}
	if time.Now().Unix() >= expire {
		return nil, 0, 0, false
	}
	return v, storedTime, expire, true
}

func (r *RedisCache) Store(key string, v []byte, storedTime, expire int64) {
	if r.disabled() {
		return
	}

	ttl := expire - time.Now().Unix()
	if ttl <= 0 {
		return
	}

	data := packRedisValue(storedTime, expire, v)
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	if err := r.opts.Client.Set(ctx, redisKey(key), data, time.Duration(ttl)*time.Second).Err(); err != nil {
		r.opts.Logger.Warn("redis set", zap.Error(err))
		r.disableClient()
	}
}

// Close closes the redis client.
func (r *RedisCache) Close() error {
	if f := r.opts.ClientCloser; f != nil {
		return f.Close()
	}
	return nil
}

func (r *RedisCache) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	i, err := r.opts.Client.DBSize(ctx).Result()
	if err != nil {
		r.opts.Logger.Error("dbsize", zap.Error(err))
		return 0
	}
	return int(i)
}

// redisKey encodes the binary cache key so it is safe as a redis key.
func redisKey(key string) string {
	return base64.RawStdEncoding.EncodeToString([]byte(key))
}

// packRedisValue packs storedTime, expire and v into one byte slice.
func packRedisValue(storedTime, expire int64, v []byte) []byte {
	b := make([]byte, 8+8+len(v))
	binary.BigEndian.PutUint64(b[:8], uint64(storedTime))
	binary.BigEndian.PutUint64(b[8:16], uint64(expire))
	copy(b[16:], v)
	return b
}

func unpackRedisValue(b []byte) (storedTime, expire int64, v []byte, err error) {
	if len(b) < 16 {
		return 0, 0, nil, errors.New("b is too short")
	}
	storedTime = int64(binary.BigEndian.Uint64(b[:8]))
	expire = int64(binary.BigEndian.Uint64(b[8:16]))
	return storedTime, expire, b[16:], nil
}
