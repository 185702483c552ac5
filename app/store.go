package app

import (
	"context"

	"github.com/kbukum/runflow/component"
	"github.com/kbukum/runflow/logger"
	"github.com/kbukum/runflow/store"
	"github.com/kbukum/runflow/store/redisstore"
	"github.com/kbukum/runflow/store/sqlstore"
)

// storeComponent is a run store the registry can start and stop.
type storeComponent interface {
	store.Store
	component.Component
}

// openStore returns the unstarted store selected by cfg.Driver.
func openStore(cfg StoreConfig, log *logger.Logger) storeComponent {
	switch cfg.Driver {
	case DriverSQLite, DriverPostgres:
		return sqlstore.New(cfg.Database, log)
	case DriverRedis:
		return redisstore.New(cfg.Redis, log)
	default:
		return memoryComponent{store.NewMemoryStore()}
	}
}

type memoryComponent struct{ *store.MemoryStore }

func (memoryComponent) Name() string { return "store" }

func (memoryComponent) Start(context.Context) error { return nil }

func (m memoryComponent) Stop(context.Context) error { return m.Close() }

func (memoryComponent) Health(context.Context) component.Health {
	return component.Health{Name: "store", Status: component.StatusHealthy, Message: "memory"}
}

func (memoryComponent) Describe() component.Description {
	return component.Description{Name: "Run store", Type: "store", Details: "memory"}
}
