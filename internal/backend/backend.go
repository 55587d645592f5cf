// Package backend opens the changemaster.Store selected by configuration
package backend

import (
	"context"
	"fmt"

	"github.com/kode4food/changemaster"
	"github.com/kode4food/changemaster/bolt"
	"github.com/kode4food/changemaster/memory"
	"github.com/kode4food/changemaster/postgres"
	"github.com/kode4food/changemaster/redis"
	"github.com/kode4food/changemaster/sqlite"
)

// Names lists the supported backends
var Names = []string{
	changemaster.BackendMemory,
	changemaster.BackendRedis,
	changemaster.BackendPostgres,
	changemaster.BackendBolt,
	changemaster.BackendSQLite,
}

// Open returns the Store for cfg.Backend
func Open(ctx context.Context, cfg changemaster.StoreConfig) (changemaster.Store, error) {
	switch cfg.Backend {
	case changemaster.BackendMemory:
		return memory.NewStore(), nil
	case changemaster.BackendRedis:
		return redis.NewStore(ctx, cfg)
	case changemaster.BackendPostgres:
		return postgres.NewStore(ctx, cfg)
	case changemaster.BackendBolt, "":
		return bolt.NewStore(cfg)
	case changemaster.BackendSQLite:
		return sqlite.NewStore(cfg)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
