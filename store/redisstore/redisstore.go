// Package redisstore keeps runs in Redis: one JSON document per run plus a
// sorted set of run ids scored by creation time.
package redisstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kbukum/runflow/component"
	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/logger"
	"github.com/kbukum/runflow/redis"
	"github.com/kbukum/runflow/run"
	"github.com/kbukum/runflow/store"
)

// Store persists runs in Redis.
type Store struct {
	comp  *redis.Component
	runs  *redis.TypedStore[run.Run]
	index string
	locks store.KeyedMutex
	now   func() time.Time
}

var (
	_ store.Store           = (*Store)(nil)
	_ component.Component   = (*Store)(nil)
	_ component.Describable = (*Store)(nil)
)

// New returns an unstarted store.
func New(cfg redis.Config, log *logger.Logger) *Store {
	return &Store{comp: redis.NewComponent(cfg, log), now: time.Now}
}

// Open returns a started store.
func Open(ctx context.Context, cfg redis.Config, log *logger.Logger) (*Store, error) {
	s := New(cfg, log)
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Name() string { return "store" }

func (s *Store) Start(ctx context.Context) error {
	if err := s.comp.Start(ctx); err != nil {
		return err
	}
	c := s.comp.Client()
	s.runs = redis.NewTypedStore[run.Run](c, c.Key("run"))
	s.index = c.Key("runs")
	return nil
}

func (s *Store) Stop(ctx context.Context) error { return s.comp.Stop(ctx) }

func (s *Store) Health(ctx context.Context) component.Health {
	h := s.comp.Health(ctx)
	h.Name = s.Name()
	return h
}

func (s *Store) Describe() component.Description {
	d := s.comp.Describe()
	d.Name = "Run store"
	return d
}

func (s *Store) Close() error { return s.comp.Stop(context.Background()) }

func (s *Store) ready(ctx context.Context) error {
	if s.runs == nil {
		return errors.ServiceUnavailable("run store")
	}
	return ctx.Err()
}

func (s *Store) CreateRun(ctx context.Context, nr store.NewRun) (string, error) {
	if err := s.ready(ctx); err != nil {
		return "", err
	}
	r := store.NewRecord(nr, s.now())
	err := s.runs.SaveWith(ctx, r.ID, r, []string{s.index}, func(tx *goredis.Tx) error {
		return s.checkIndex(ctx, tx)
	}, func(p goredis.Pipeliner) {
		p.ZAdd(ctx, s.index, goredis.Z{Score: score(r.CreatedAt), Member: r.ID})
	})
	if err != nil {
		return "", mapErr(err, r.ID)
	}
	return r.ID, nil
}

// checkIndex refuses to write when the index key holds something other
// than a sorted set; EXEC would store the run and fail only the ZADD.
func (s *Store) checkIndex(ctx context.Context, tx *goredis.Tx) error {
	typ, err := tx.Type(ctx, s.index).Result()
	if err != nil {
		return err
	}
	if typ != "none" && typ != "zset" {
		return fmt.Errorf("run index %s holds a %s", s.index, typ)
	}
	return nil
}

func (s *Store) RecordStepStatus(ctx context.Context, runID, stepID string, status run.Status, at time.Time, opts ...store.StepOption) error {
	u := store.BuildUpdate(status, at, opts...)
	return s.update(ctx, runID, func(r *run.Run) (bool, error) {
		return run.ApplyStepStatus(r, stepID, u)
	})
}

func (s *Store) RecordAttempt(ctx context.Context, runID, stepID string, a run.Attempt) error {
	return s.update(ctx, runID, func(r *run.Run) (bool, error) {
		return run.ApplyAttempt(r, stepID, a)
	})
}

// update serializes writers in-process; WATCH covers other processes.
func (s *Store) update(ctx context.Context, runID string, fn func(*run.Run) (bool, error)) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	unlock := s.locks.Lock(runID)
	defer unlock()
	return mapErr(s.runs.Update(ctx, runID, fn), runID)
}

func (s *Store) GetRun(ctx context.Context, runID string) (*run.Run, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	r, err := s.runs.Load(ctx, runID)
	if err != nil {
		return nil, mapErr(err, runID)
	}
	return r, nil
}

func (s *Store) ListRuns(ctx context.Context, f run.Filter) ([]*run.Run, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rng := &goredis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !f.CreatedAfter.IsZero() {
		rng.Min = strconv.FormatFloat(score(f.CreatedAfter)-1, 'f', 0, 64)
	}
	if !f.CreatedBefore.IsZero() {
		rng.Max = strconv.FormatFloat(score(f.CreatedBefore)+1, 'f', 0, 64)
	}
	ids, err := s.comp.Client().Unwrap().ZRevRangeByScore(ctx, s.index, rng).Result()
	if err != nil {
		return nil, mapErr(err, "")
	}
	runs, err := s.runs.LoadMany(ctx, ids)
	if err != nil {
		return nil, mapErr(err, "")
	}
	return f.Apply(runs), nil
}

// score is the creation time in microseconds, exact in a float64. The
// range query is widened by one unit and Filter re-checks the bounds.
func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func mapErr(err error, runID string) error {
	switch {
	case err == nil:
		return nil
	case errors.IsAppError(err):
		return err
	case stderrors.Is(err, redis.ErrNotFound):
		return errors.NotFound("run", runID)
	case stderrors.Is(err, redis.ErrConflict):
		return errors.Conflict("run " + runID + " is being updated concurrently")
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return errors.ServiceUnavailable("redis").WithCause(err)
	}
}
