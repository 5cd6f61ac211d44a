// Package store provides the durable key-value abstraction the proxy uses to
// remember decisions across restarts, most importantly the telnet port that was
// negotiated for an application's diagnostics process.
//
// The package focuses on:
//   - A unified interface (IStore) for string key-value operations across backends
//   - Structured errors with return codes
//
// Key Components:
//
//   - IStore Interface: Get/Set/Delete/Has plus SetIfUnset, which is the atomic
//     first-writer-wins primitive the port negotiator relies on so concurrent
//     allocations for the same application converge on one port.
//
//   - Error System: A structured error reporting mechanism using typed return
//     codes (RetCode) and descriptive messages.
//
// Implementations:
//
//   - Local Store (lstore): an in-memory implementation on top of xsync.MapOf.
//     Nothing survives a restart, which makes it the right choice for tests and
//     for proxies that always run in fixed-port mode.
//     Available in the "github.com/ValentinKolb/dProxy/lib/store/lstore" package.
//
//   - SQL Store (sqlstore): a durable implementation backed by SQLite
//     (modernc.org/sqlite, no cgo). This is the default backend of `dproxy serve`.
//     Available in the "github.com/ValentinKolb/dProxy/lib/store/sqlstore" package.
//
// A shared conformance suite lives in "github.com/ValentinKolb/dProxy/lib/store/storetest".
package store
