package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/changemaster"
	"github.com/kode4food/changemaster/internal/storetest"
	"github.com/kode4food/changemaster/memory"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) changemaster.Store {
		return memory.NewStore()
	})
}

func TestLen(t *testing.T) {
	store := memory.NewStore()
	assert.Equal(t, 0, store.Len())

	_, err := store.AssignAndPersist(t.Context(), storetest.NewChange("a", "r1", ""))
	assert.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestClosed(t *testing.T) {
	store := memory.NewStore()
	assert.NoError(t, store.Close())

	_, err := store.AssignAndPersist(t.Context(), storetest.NewChange("a", "r1", ""))
	assert.ErrorIs(t, err, changemaster.ErrClosed)
}
