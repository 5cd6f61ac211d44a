// Package pid resolves the process id of an application's target process.
package pid

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ValentinKolb/dProxy/lib/meta"
)

// Key is the app meta key agents report their pid under.
const Key = "pid"

// ErrUnknownApp is returned when no pid is known for an application.
var ErrUnknownApp = errors.New("no pid known for app")

// Resolver looks up pids in the application scope of the meta store first and falls back to a static table.
type Resolver struct {
	stores *meta.Stores
	static map[string]int
}

// NewResolver creates a resolver. static may be nil.
func NewResolver(stores *meta.Stores, static map[string]int) *Resolver {
	return &Resolver{stores: stores, static: static}
}

// Resolve returns the pid of appCode.
func (r *Resolver) Resolve(appCode string) (int, error) {
	if appCode != "" && r.stores != nil {
		app, err := r.stores.App(appCode)
		if err != nil {
			return 0, err
		}
		// the shared scope holds whichever app reported last, so only the app's own scope counts
		if raw, ok := app.Local(Key); ok {
			p, err := strconv.Atoi(raw)
			if err != nil {
				return 0, &meta.ParseError{Key: Key, Value: raw, Type: "int", Err: err}
			}
			return p, nil
		}
	}
	if p, ok := r.static[appCode]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownApp, appCode)
}
