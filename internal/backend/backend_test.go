package backend_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"

	"github.com/kode4food/changemaster"
	"github.com/kode4food/changemaster/internal/backend"
)

func TestOpen(t *testing.T) {
	server := miniredis.RunT(t)
	dir := t.TempDir()

	tests := []struct {
		name string
		cfg  changemaster.StoreConfig
	}{
		{"memory", changemaster.StoreConfig{Backend: changemaster.BackendMemory}},
		{"redis", changemaster.StoreConfig{
			Backend: changemaster.BackendRedis,
			Addr:    server.Addr(),
		}},
		{"bolt", changemaster.StoreConfig{
			Backend: changemaster.BackendBolt,
			Path:    filepath.Join(dir, "changes.db"),
		}},
		{"default", changemaster.StoreConfig{
			Path: filepath.Join(dir, "default.db"),
		}},
		{"sqlite", changemaster.StoreConfig{
			Backend: changemaster.BackendSQLite,
			Path:    filepath.Join(dir, "changes.sqlite"),
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, err := backend.Open(context.Background(), tc.cfg)
			assert.NoError(t, err)
			if assert.NotNil(t, store) {
				assert.NoError(t, store.Close())
			}
		})
	}
}

func TestOpenUnknown(t *testing.T) {
	_, err := backend.Open(context.Background(), changemaster.StoreConfig{
		Backend: "cassandra",
	})
	assert.ErrorContains(t, err, "cassandra")
}

func TestOpenPostgresWithoutDSN(t *testing.T) {
	_, err := backend.Open(context.Background(), changemaster.StoreConfig{
		Backend: changemaster.BackendPostgres,
	})
	assert.Error(t, err)
}
