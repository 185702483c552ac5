// Package sqlstore is the SQL-backed run store. It runs on sqlite for a
// single host and on postgres when several engines share one history.
package sqlstore

import (
	"context"
	"embed"
	stderrors "errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kbukum/runflow/component"
	"github.com/kbukum/runflow/database"
	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/logger"
	"github.com/kbukum/runflow/run"
	"github.com/kbukum/runflow/store"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrations are the schema migrations per driver.
var Migrations = database.Migrations{
	FS: migrationsFS,
	Dirs: map[string]string{
		database.DriverSQLite:   "migrations/sqlite",
		database.DriverPostgres: "migrations/postgres",
	},
}

// Store persists runs through GORM.
type Store struct {
	comp  *database.Component
	cfg   database.Config
	locks store.KeyedMutex
	now   func() time.Time
}

var (
	_ store.Store           = (*Store)(nil)
	_ component.Component   = (*Store)(nil)
	_ component.Describable = (*Store)(nil)
)

// New returns an unopened store. Start connects and migrates.
func New(cfg database.Config, log *logger.Logger) *Store {
	cfg.ApplyDefaults()
	return &Store{
		comp: database.NewComponent(cfg, log).WithMigrations(Migrations),
		cfg:  cfg,
		now:  time.Now,
	}
}

// Open returns a started store.
func Open(ctx context.Context, cfg database.Config, log *logger.Logger) (*Store, error) {
	s := New(cfg, log)
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Name() string { return "store" }

func (s *Store) Start(ctx context.Context) error { return s.comp.Start(ctx) }

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

func (s *Store) db(ctx context.Context) (*database.DB, error) {
	db := s.comp.DB()
	if db == nil {
		return nil, errors.ServiceUnavailable("run store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return db, nil
}

func (s *Store) CreateRun(ctx context.Context, nr store.NewRun) (string, error) {
	db, err := s.db(ctx)
	if err != nil {
		return "", err
	}
	r := store.NewRecord(nr, s.now())
	rr, err := encodeRun(r)
	if err != nil {
		return "", errors.Internal(err)
	}
	steps := make([]stepRow, 0, len(r.Steps))
	for _, id := range r.StepIDs() {
		row, err := encodeStep(r.ID, r.Steps[id])
		if err != nil {
			return "", errors.Internal(err)
		}
		steps = append(steps, row)
	}

	err = db.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&rr).Error; err != nil {
			return database.FromDatabase(err, "run")
		}
		if len(steps) > 0 {
			if err := tx.CreateInBatches(steps, 100).Error; err != nil {
				return database.FromDatabase(err, "step")
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func (s *Store) RecordStepStatus(ctx context.Context, runID, stepID string, status run.Status, at time.Time, opts ...store.StepOption) error {
	u := store.BuildUpdate(status, at, opts...)
	return s.update(ctx, runID, func(tx *gorm.DB, r *run.Run) error {
		changed, err := run.ApplyStepStatus(r, stepID, u)
		if err != nil || !changed {
			return err
		}
		rr, err := encodeRun(r)
		if err != nil {
			return errors.Internal(err)
		}
		sr, err := encodeStep(r.ID, r.Steps[stepID])
		if err != nil {
			return errors.Internal(err)
		}
		if err := tx.Model(&runRow{ID: r.ID}).Select("status", "started_at", "ended_at").Updates(&rr).Error; err != nil {
			return database.FromDatabase(err, "run")
		}
		if err := tx.Model(&stepRow{RunID: r.ID, StepID: stepID}).
			Select("status", "attempt", "started_at", "ended_at", "output", "error").
			Updates(&sr).Error; err != nil {
			return database.FromDatabase(err, "step")
		}
		return nil
	})
}

func (s *Store) RecordAttempt(ctx context.Context, runID, stepID string, a run.Attempt) error {
	return s.update(ctx, runID, func(tx *gorm.DB, r *run.Run) error {
		changed, err := run.ApplyAttempt(r, stepID, a)
		if err != nil || !changed {
			return err
		}
		row := encodeAttempt(runID, stepID, a)
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return database.FromDatabase(err, "attempt")
		}
		return nil
	})
}

// update loads the run inside a transaction, lets fn apply and write the
// change, and commits. Writers to one run are serialized in-process by the
// keyed mutex and across processes by a row lock on postgres.
func (s *Store) update(ctx context.Context, runID string, fn func(tx *gorm.DB, r *run.Run) error) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(runID)
	defer unlock()

	return db.WithTransaction(ctx, func(tx *gorm.DB) error {
		r, err := s.load(tx, runID, true)
		if err != nil {
			return err
		}
		return fn(tx, r)
	})
}

func (s *Store) load(tx *gorm.DB, runID string, forUpdate bool) (*run.Run, error) {
	q := tx
	if forUpdate && s.cfg.Driver == database.DriverPostgres {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var rr runRow
	if err := q.Where("id = ?", runID).Take(&rr).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("run", runID)
		}
		return nil, database.FromDatabase(err, "run")
	}
	runs, err := s.hydrate(tx, []runRow{rr})
	if err != nil {
		return nil, err
	}
	return runs[0], nil
}

// hydrate loads the steps and attempts of rows in two queries.
func (s *Store) hydrate(tx *gorm.DB, rows []runRow) ([]*run.Run, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, len(rows))
	for i, rr := range rows {
		ids[i] = rr.ID
	}

	var steps []stepRow
	if err := tx.Where("run_id IN ?", ids).Find(&steps).Error; err != nil {
		return nil, database.FromDatabase(err, "step")
	}
	var attempts []attemptRow
	if err := tx.Where("run_id IN ?", ids).Order("number").Find(&attempts).Error; err != nil {
		return nil, database.FromDatabase(err, "attempt")
	}

	stepsByRun := make(map[string][]stepRow, len(rows))
	for _, sr := range steps {
		stepsByRun[sr.RunID] = append(stepsByRun[sr.RunID], sr)
	}
	attemptsByRun := make(map[string][]attemptRow, len(rows))
	for _, ar := range attempts {
		attemptsByRun[ar.RunID] = append(attemptsByRun[ar.RunID], ar)
	}

	out := make([]*run.Run, 0, len(rows))
	for _, rr := range rows {
		r, err := decodeRun(rr, stepsByRun[rr.ID], attemptsByRun[rr.ID])
		if err != nil {
			return nil, errors.Internal(err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (*run.Run, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	return s.load(db.WithContext(ctx), runID, false)
}

func (s *Store) ListRuns(ctx context.Context, f run.Filter) ([]*run.Run, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	q := db.WithContext(ctx).Model(&runRow{})
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	if f.Repository != "" {
		q = q.Where("repository = ?", f.Repository)
	}
	if f.JobName != "" {
		q = q.Where("job_name = ?", f.JobName)
	}
	if !f.CreatedAfter.IsZero() {
		q = q.Where("created_at >= ?", f.CreatedAfter.UnixNano())
	}
	if !f.CreatedBefore.IsZero() {
		q = q.Where("created_at < ?", f.CreatedBefore.UnixNano())
	}
	q = q.Order("created_at DESC").Order("id DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []runRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, database.FromDatabase(err, "run")
	}
	return s.hydrate(db.WithContext(ctx), rows)
}
