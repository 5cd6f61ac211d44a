// Package meta provides the layered property store shared by the proxy components.
//
// Key Components:
//
//   - Stores: the context object owning one shared scope and one store per
//     application code. Application stores are created exactly once, on first
//     access, and then cached for the lifetime of the Stores value.
//
//   - MetaStore: a string key-value store with typed getters. The required form
//     (e.g. Bool) fails with ErrNotFound for missing keys, the default form
//     (e.g. BoolOr) returns the default instead. Both forms return a *ParseError
//     for a present value that can not be decoded.
//
// Application stores are app-first composites: writes go to the application
// scope and the shared scope, reads return the application value if present
// and fall back to the shared scope otherwise.
//
// Usage Example:
//
//	stores := meta.NewStores()
//	app, _ := stores.App("demo")
//	_ = app.Put("pid", "4711")
//
//	pid, err := app.Int("pid")                     // 4711
//	debug, err := app.BoolOr("debug.enabled", false) // false, key is missing
package meta
