package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kbukum/runflow/logger"
)

// Client is a go-redis client bound to a key prefix.
type Client struct {
	rdb       *goredis.Client
	cfg       Config
	log       *logger.Logger
	closeOnce sync.Once
	closeErr  error
}

// New creates a client. It does not contact the server; Ping does.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Get("redis")
	}
	c := &Client{rdb: goredis.NewClient(cfg.options()), cfg: cfg, log: log}
	log.Debug("Redis client created", logger.Fields(logger.FieldAddress, cfg.Addr, "db", cfg.DB, "prefix", cfg.KeyPrefix))
	return c, nil
}

func (c Config) options() *goredis.Options {
	return &goredis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

// Key joins parts under the key prefix: Key("run", id) is "runflow:run:<id>".
func (c *Client) Key(parts ...string) string {
	return strings.Join(append([]string{c.cfg.KeyPrefix}, parts...), ":")
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", c.cfg.Addr, err)
	}
	return nil
}

// Close releases the connection pool. Later calls return the first result.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.log.Debug("Closing Redis connection")
		c.closeErr = c.rdb.Close()
	})
	return c.closeErr
}

// Unwrap returns the underlying go-redis client.
func (c *Client) Unwrap() *goredis.Client {
	return c.rdb
}
