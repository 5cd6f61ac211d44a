package storetest

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/dProxy/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreFactory creates a fresh, empty store for a single test case.
type StoreFactory func(t *testing.T) store.IStore

// RunStoreTests runs the conformance suite for an IStore implementation.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory(t))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory(t))
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory(t))
		})

		t.Run("SetIfUnset", func(t *testing.T) {
			testSetIfUnset(t, factory(t))
		})

		t.Run("ConcurrentSetIfUnset", func(t *testing.T) {
			testConcurrentSetIfUnset(t, factory(t))
		})

		t.Run("EmptyKey", func(t *testing.T) {
			testEmptyKey(t, factory(t))
		})

		t.Run("Closed", func(t *testing.T) {
			testClosed(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, s store.IStore) {
	defer s.Close()

	_, found, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, found, "missing key should not be found")

	require.NoError(t, s.Set("dproxy.app:demo:telnet.port", "43210"))

	value, found, err := s.Get("dproxy.app:demo:telnet.port")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "43210", value)

	require.NoError(t, s.Set("dproxy.app:demo:telnet.port", "43211"))

	value, _, err = s.Get("dproxy.app:demo:telnet.port")
	require.NoError(t, err)
	assert.Equal(t, "43211", value, "Set should overwrite an existing value")

	// empty values are legal and distinct from missing keys
	require.NoError(t, s.Set("empty", ""))
	value, found, err = s.Get("empty")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "", value)
}

func testDelete(t *testing.T, s store.IStore) {
	defer s.Close()

	require.NoError(t, s.Set("key", "value"))
	require.NoError(t, s.Delete("key"))

	_, found, err := s.Get("key")
	require.NoError(t, err)
	assert.False(t, found, "key should be gone after Delete")

	assert.NoError(t, s.Delete("never-existed"), "deleting a missing key is not an error")
}

func testHas(t *testing.T, s store.IStore) {
	defer s.Close()

	has, err := s.Has("key")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.Set("key", "value"))

	has, err = s.Has("key")
	require.NoError(t, err)
	assert.True(t, has)
}

func testSetIfUnset(t *testing.T, s store.IStore) {
	defer s.Close()

	actual, err := s.SetIfUnset("key", "first")
	require.NoError(t, err)
	assert.Equal(t, "first", actual)

	actual, err = s.SetIfUnset("key", "second")
	require.NoError(t, err)
	assert.Equal(t, "first", actual, "SetIfUnset must not overwrite")

	value, _, err := s.Get("key")
	require.NoError(t, err)
	assert.Equal(t, "first", value)
}

func testConcurrentSetIfUnset(t *testing.T, s store.IStore) {
	defer s.Close()

	const workers = 16
	results := make([]string, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actual, err := s.SetIfUnset("contended", fmt.Sprintf("value-%d", i))
			assert.NoError(t, err)
			results[i] = actual
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Equal(t, results[0], results[i], "all writers must observe the same winner")
	}
}

func testEmptyKey(t *testing.T, s store.IStore) {
	defer s.Close()

	err := s.Set("", "value")
	require.Error(t, err)

	var storeErr *store.Error
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, store.RetCInvalidOperation, storeErr.Code)
}

func testClosed(t *testing.T, s store.IStore) {
	require.NoError(t, s.Set("key", "value"))
	require.NoError(t, s.Close())

	_, _, err := s.Get("key")
	require.Error(t, err)

	var storeErr *store.Error
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, store.RetCClosed, storeErr.Code)

	assert.NoError(t, s.Close(), "closing twice is not an error")
}
