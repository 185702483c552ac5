package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("redis: key not found")

// ErrConflict is returned when Update lost every optimistic retry.
var ErrConflict = errors.New("redis: concurrent update conflict")

// DefaultUpdateRetries bounds optimistic retries in Update.
const DefaultUpdateRetries = 50

// TypedStore keeps JSON-encoded values of type C under prefixed keys.
type TypedStore[C any] struct {
	client    *Client
	keyPrefix string
	retries   int
}

// NewTypedStore creates a TypedStore. Keys are stored as prefix:key.
func NewTypedStore[C any](client *Client, keyPrefix string) *TypedStore[C] {
	return &TypedStore[C]{client: client, keyPrefix: keyPrefix, retries: DefaultUpdateRetries}
}

// FullKey returns the Redis key for key.
func (s *TypedStore[C]) FullKey(key string) string {
	if s.keyPrefix == "" {
		return key
	}
	return s.keyPrefix + ":" + key
}

// Load returns the value stored under key or ErrNotFound.
func (s *TypedStore[C]) Load(ctx context.Context, key string) (*C, error) {
	raw, err := s.client.rdb.Get(ctx, s.FullKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("typed store load %q: %w", key, err)
	}
	return s.decode(key, raw)
}

// LoadMany returns the values stored under keys, skipping missing ones.
func (s *TypedStore[C]) LoadMany(ctx context.Context, keys []string) ([]*C, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.FullKey(k)
	}
	vals, err := s.client.rdb.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("typed store mget: %w", err)
	}
	out := make([]*C, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		val, err := s.decode(keys[i], []byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, val)
	}
	return out, nil
}

// Save stores val under key. A ttl of 0 means no expiration.
func (s *TypedStore[C]) Save(ctx context.Context, key string, val *C, ttl time.Duration) error {
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("typed store marshal %q: %w", key, err)
	}
	if err := s.client.rdb.Set(ctx, s.FullKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("typed store save %q: %w", key, err)
	}
	return nil
}

// SaveWith stores val under key together with the commands also queues,
// in one MULTI/EXEC. check runs first with the watch keys watched; an error
// from it aborts before anything is written.
func (s *TypedStore[C]) SaveWith(ctx context.Context, key string, val *C, watch []string, check func(*goredis.Tx) error, also func(goredis.Pipeliner)) error {
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("typed store marshal %q: %w", key, err)
	}
	full := s.FullKey(key)
	txf := func(tx *goredis.Tx) error {
		if check != nil {
			if err := check(tx); err != nil {
				return err
			}
		}
		_, err := tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, full, data, 0)
			if also != nil {
				also(p)
			}
			return nil
		})
		return err
	}

	for i := 0; i < s.retries; i++ {
		err := s.client.rdb.Watch(ctx, txf, append([]string{full}, watch...)...)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return ErrConflict
}

// Update reads the value under key, passes it to fn and writes it back
// unless fn reports no change. The write only commits if nobody else wrote
// the key in between; otherwise the whole cycle is retried. Errors from fn
// abort the update and are returned as-is.
func (s *TypedStore[C]) Update(ctx context.Context, key string, fn func(*C) (bool, error)) error {
	full := s.FullKey(key)
	txf := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, full).Bytes()
		if errors.Is(err, goredis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		val, err := s.decode(key, raw)
		if err != nil {
			return err
		}
		changed, err := fn(val)
		if err != nil || !changed {
			return err
		}
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("typed store marshal %q: %w", key, err)
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, full, data, goredis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < s.retries; i++ {
		err := s.client.rdb.Watch(ctx, txf, full)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return ErrConflict
}

// Delete removes the key.
func (s *TypedStore[C]) Delete(ctx context.Context, key string) error {
	if err := s.client.rdb.Del(ctx, s.FullKey(key)).Err(); err != nil {
		return fmt.Errorf("typed store delete %q: %w", key, err)
	}
	return nil
}

func (s *TypedStore[C]) decode(key string, raw []byte) (*C, error) {
	var val C
	if err := json.Unmarshal(raw, &val); err != nil {
		return nil, fmt.Errorf("typed store unmarshal %q: %w", key, err)
	}
	return &val, nil
}
