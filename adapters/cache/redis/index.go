package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rendau/httpc/adapters/logger"
)

type OptionsSt struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Timeout  time.Duration
}

type St struct {
	lg      logger.WarnAndError
	prefix  string
	timeout time.Duration

	r *redis.Client
}

func New(lg logger.WarnAndError, opts OptionsSt) *St {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}

	return &St{
		lg:      lg,
		prefix:  opts.Prefix,
		timeout: opts.Timeout,

		r: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
	}
}

func (c *St) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func (c *St) Get(key string) ([]byte, bool, error) {
	ctx, cancel := c.ctx()
	defer cancel()

	data, err := c.r.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		c.lg.Errorw("Redis: fail to 'get'", err)
		return nil, false, err
	}

	return data, true, nil
}

func (c *St) GetJsonObj(key string, dst interface{}) (bool, error) {
	dataRaw, ok, err := c.Get(key)
	if err != nil || !ok {
		return ok, err
	}

	err = json.Unmarshal(dataRaw, dst)
	if err != nil {
		return false, err
	}

	return true, nil
}

func (c *St) Set(key string, value []byte, expiration time.Duration) error {
	ctx, cancel := c.ctx()
	defer cancel()

	if expiration < 0 {
		expiration = 0
	}

	err := c.r.Set(ctx, c.prefix+key, value, expiration).Err()
	if err != nil {
		c.lg.Errorw("Redis: fail to 'set'", err)
	}

	return err
}

func (c *St) SetJsonObj(key string, value interface{}, expiration time.Duration) error {
	dataRaw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.Set(key, dataRaw, expiration)
}

func (c *St) Del(key string) error {
	ctx, cancel := c.ctx()
	defer cancel()

	err := c.r.Del(ctx, c.prefix+key).Err()
	if err != nil {
		c.lg.Errorw("Redis: fail to 'del'", err)
	}

	return err
}

// Keys returns matching keys without the configured prefix.
func (c *St) Keys(pattern string) []string {
	ctx, cancel := c.ctx()
	defer cancel()

	var err error
	var cursor uint64
	var keys []string

	resKeys := make([]string, 0)
	for {
		keys, cursor, err = c.r.Scan(ctx, cursor, c.prefix+pattern, 30).Result()
		if err != nil {
			c.lg.Warnw("Redis: fail to 'scan'", "error", err)
			break
		}
		for _, k := range keys {
			resKeys = append(resKeys, k[len(c.prefix):])
		}
		if cursor == 0 {
			break
		}
	}

	return resKeys
}

func (c *St) Close() error {
	return c.r.Close()
}
