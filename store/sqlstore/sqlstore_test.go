package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kbukum/runflow/database"
	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/logger"
	"github.com/kbukum/runflow/run"
	"github.com/kbukum/runflow/store"
	"github.com/kbukum/runflow/store/sqlstore"
	"github.com/kbukum/runflow/store/storetest"
)

func openSQLite(t *testing.T, path string) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(context.Background(), database.Config{Driver: database.DriverSQLite, DSN: path}, logger.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s := openSQLite(t, filepath.Join(t.TempDir(), "runs.db"))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	s := openSQLite(t, path)
	id, err := s.CreateRun(ctx, storetest.Job(t))
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.RecordStepStatus(ctx, id, "a", run.StatusRunning, timeBase()); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordStepStatus(ctx, id, "a", run.StatusSucceeded, timeBase(), store.WithOutput([]byte("out"))); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := openSQLite(t, path)
	defer reopened.Close()
	r, err := reopened.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun after reopen: %v", err)
	}
	if r.Steps["a"].Status != run.StatusSucceeded || string(r.Steps["a"].Output) != "out" {
		t.Errorf("step a = %+v", r.Steps["a"])
	}
	if r.Status != run.StatusRunning {
		t.Errorf("run status = %s", r.Status)
	}
}

func TestStore_NotStarted(t *testing.T) {
	s := sqlstore.New(database.Config{Driver: database.DriverSQLite, DSN: "unused.db"}, logger.Nop())
	_, err := s.GetRun(context.Background(), "x")
	if !errors.HasCode(err, errors.ErrCodeServiceUnavailable) {
		t.Fatalf("expected SERVICE_UNAVAILABLE, got %v", err)
	}
}

func timeBase() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
