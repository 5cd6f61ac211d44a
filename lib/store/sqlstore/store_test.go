package sqlstore

import (
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/dProxy/lib/store"
	"github.com/ValentinKolb/dProxy/lib/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLStore(t *testing.T) {
	storetest.RunStoreTests(t, "SQLStore", func(t *testing.T) store.IStore {
		s, err := NewSQLStore(filepath.Join(t.TempDir(), "kv.db"))
		require.NoError(t, err)
		return s
	})

	storetest.RunStoreTests(t, "SQLStoreInMemory", func(t *testing.T) store.IStore {
		s, err := NewSQLStore(":memory:")
		require.NoError(t, err)
		return s
	})
}

func TestSQLStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "kv.db")

	s, err := NewSQLStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("dproxy.app:demo:telnet.port", "43210"))
	require.NoError(t, s.Close())

	reopened, err := NewSQLStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	value, found, err := reopened.Get("dproxy.app:demo:telnet.port")
	require.NoError(t, err)
	assert.True(t, found, "value should survive a reopen")
	assert.Equal(t, "43210", value)
}
