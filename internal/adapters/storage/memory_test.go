package storage

import (
	"testing"

	"github.com/foundry/pkgfs/internal/adapters/storage/storagetest"
	"github.com/foundry/pkgfs/internal/core/services"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) services.ObjectStore {
		return NewMemoryStore()
	})
}
