// Package storetest provides a standardised conformance suite for
// implementations of the store.IStore interface.
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func(t *testing.T) store.IStore {
//		return NewMyStore()
//	}
//
//	// Running the standard test suite
//	storetest.RunStoreTests(t, "MyStore", factory)
package storetest
