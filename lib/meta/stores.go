package meta

import (
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Stores owns the shared scope and the per-application stores of one proxy process.
type Stores struct {
	shared *MetaStore
	apps   *xsync.MapOf[string, *MetaStore]
}

// NewStores creates an empty context with a fresh shared scope.
func NewStores() *Stores {
	return &Stores{
		shared: newScope(),
		apps:   xsync.NewMapOf[string, *MetaStore](),
	}
}

// Shared returns the shared scope. It is never replaced for the lifetime of s.
func (s *Stores) Shared() *MetaStore {
	return s.shared
}

// App returns the app-first store for appCode, creating it on first access.
// Every call for the same appCode returns the identical instance.
func (s *Stores) App(appCode string) (*MetaStore, error) {
	if appCode == "" {
		return nil, fmt.Errorf("%w: app code must not be empty", ErrInvalidArgument)
	}
	store, _ := s.apps.LoadOrCompute(appCode, func() *MetaStore {
		log.Debugf("creating meta store for app %s", appCode)
		return newAppFirst(s.shared)
	})
	return store, nil
}

// Apps returns the codes of all applications that have a store, sorted.
func (s *Stores) Apps() []string {
	codes := make([]string, 0, s.apps.Size())
	s.apps.Range(func(code string, _ *MetaStore) bool {
		codes = append(codes, code)
		return true
	})
	sort.Strings(codes)
	return codes
}
