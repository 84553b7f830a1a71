// internal/storage/memory/memory_test.go
package memory_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opendrakan/statesync/internal/storage"
	"github.com/opendrakan/statesync/internal/storage/memory"
	"github.com/opendrakan/statesync/internal/storage/storagetest"
)

// Verify Backend implements storage.Backend interface
var _ storage.Backend = (*memory.Backend)(nil)

func TestBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		b := memory.New()
		require.NoError(t, b.Init())
		t.Cleanup(func() { b.Close() })
		return b
	})
}
