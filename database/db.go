package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kbukum/runflow/logger"
	"github.com/kbukum/runflow/resilience"
)

// DB wraps a GORM database with runflow logging.
type DB struct {
	GormDB *gorm.DB
	log    *logger.Logger
	cfg    Config
	closed bool
	mu     sync.Mutex
}

// Dialector returns the GORM dialector for cfg.Driver.
func Dialector(cfg Config) (gorm.Dialector, error) {
	switch cfg.Driver {
	case DriverSQLite:
		return sqlite.Open(cfg.DSN), nil
	case DriverPostgres:
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Open connects to the configured database, retrying with backoff until
// MaxRetries attempts have failed or ctx is done.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*DB, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("database")

	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	slowThreshold, _ := time.ParseDuration(cfg.SlowQueryThreshold)
	gormCfg := &gorm.Config{
		Logger:         newGormLogger(log, slowThreshold, parseLogLevel(cfg.LogLevel)),
		TranslateError: true,
	}

	retry := resilience.RetryConfig{
		MaxAttempts: cfg.MaxRetries,
		Backoff:     resilience.Backoff{Initial: 500 * time.Millisecond, Max: 5 * time.Second},
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			log.Warn("Database connection attempt failed, retrying", map[string]interface{}{
				logger.FieldAttempt: attempt,
				logger.FieldError:   err,
				"backoff":           backoff.String(),
			})
		},
	}
	db, err := resilience.Retry(ctx, retry, func(int) (*gorm.DB, error) {
		db, err := gorm.Open(dialector, gormCfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		return db, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Driver, err)
	}

	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	if lifetime, err := time.ParseDuration(cfg.ConnMaxLifetime); err == nil {
		sqlDB.SetConnMaxLifetime(lifetime)
	}

	log.Info("Database connection established", map[string]interface{}{"driver": cfg.Driver})
	return &DB{GormDB: db, log: log, cfg: cfg}, nil
}

// Driver returns the configured driver name.
func (d *DB) Driver() string { return d.cfg.Driver }

// Close closes the underlying connection pool. Safe to call multiple times.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	sqlDB, err := d.GormDB.DB()
	if err != nil {
		return err
	}
	d.closed = true
	d.log.Info("Closing database connection")
	return sqlDB.Close()
}

// PingContext verifies the database connection is alive.
func (d *DB) PingContext(ctx context.Context) error {
	sqlDB, err := d.GormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// WithContext returns a GORM session scoped to ctx.
func (d *DB) WithContext(ctx context.Context) *gorm.DB {
	return d.GormDB.WithContext(ctx)
}

// TransactionFunc runs within a transaction.
type TransactionFunc func(tx *gorm.DB) error

// WithTransaction runs fn in a transaction. A returned error or a panic
// rolls the transaction back.
func (d *DB) WithTransaction(ctx context.Context, fn TransactionFunc) (err error) {
	tx := d.GormDB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return FromDatabase(tx.Error, "transaction")
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			d.log.Error("Transaction rolled back due to panic", map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
			})
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return FromDatabase(err, "transaction")
	}
	return nil
}

// Stats reports connection pool usage.
type Stats struct {
	OpenConns  int `json:"open_connections"`
	InUseConns int `json:"in_use_connections"`
	IdleConns  int `json:"idle_connections"`
}

// Stats returns the current pool statistics.
func (d *DB) Stats() Stats {
	sqlDB, err := d.GormDB.DB()
	if err != nil {
		return Stats{}
	}
	s := sqlDB.Stats()
	return Stats{OpenConns: s.OpenConnections, InUseConns: s.InUse, IdleConns: s.Idle}
}
