package redisstore_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/logger"
	"github.com/kbukum/runflow/redis"
	"github.com/kbukum/runflow/store"
	"github.com/kbukum/runflow/store/redisstore"
	"github.com/kbukum/runflow/store/storetest"
)

func TestRedisStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		mr := miniredis.RunT(t)
		s, err := redisstore.Open(context.Background(), redis.Config{Addr: mr.Addr()}, logger.Nop())
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestRedisStore_Keys(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	s, err := redisstore.Open(ctx, redis.Config{Addr: mr.Addr(), KeyPrefix: "rf"}, logger.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	id, err := s.CreateRun(ctx, storetest.Job(t))
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if !mr.Exists("rf:run:" + id) {
		t.Errorf("run document missing, keys = %v", mr.Keys())
	}
	members, err := mr.ZMembers("rf:runs")
	if err != nil || len(members) != 1 || members[0] != id {
		t.Errorf("index = %v, %v", members, err)
	}
}

func TestRedisStore_CreateRunWritesNothingOnIndexError(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	s, err := redisstore.Open(ctx, redis.Config{Addr: mr.Addr(), KeyPrefix: "rf"}, logger.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := mr.Set("rf:runs", "not a sorted set"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateRun(ctx, storetest.Job(t)); !errors.HasCode(err, errors.ErrCodeServiceUnavailable) {
		t.Fatalf("expected SERVICE_UNAVAILABLE, got %v", err)
	}
	for _, k := range mr.Keys() {
		if k != "rf:runs" {
			t.Errorf("unexpected key %s left behind", k)
		}
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	s, err := redisstore.Open(ctx, redis.Config{Addr: mr.Addr(), MaxRetries: 1}, logger.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	mr.Close()

	if _, err := s.GetRun(ctx, "x"); !errors.HasCode(err, errors.ErrCodeServiceUnavailable) {
		t.Fatalf("expected SERVICE_UNAVAILABLE, got %v", err)
	}
}
