// Package lstore implements a local, in-memory key-value store based on the
// store.IStore interface. Data is stored entirely in memory and is not persisted
// between process restarts.
//
// Key Features:
//   - Pure in-memory storage without persistence
//   - Lock-free reads and atomic SetIfUnset through xsync.MapOf
//   - Thread-safe operations for concurrent access
//
// Usage Example:
//
//	s := lstore.NewLocalStore()
//	defer s.Close()
//
//	_ = s.Set("dproxy.app:demo:telnet.port", "43210")
//	port, found, err := s.Get("dproxy.app:demo:telnet.port")
//
// Suitable Use Cases:
//
//	The local store is ideal for:
//	- Proxies running in fixed-port mode where nothing needs to be remembered
//	- Testing and development environments
//
// For persistence across restarts use the sqlstore package, which implements
// the same interface on top of SQLite.
package lstore
