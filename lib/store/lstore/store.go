package lstore

import (
	"sync/atomic"

	"github.com/ValentinKolb/dProxy/lib/store"
	"github.com/puzpuzpuz/xsync/v3"
)

type storeImpl struct {
	data   *xsync.MapOf[string, string]
	closed atomic.Bool
}

// NewLocalStore creates a new local store instance.
// This store implementation keeps all data in memory and does not survive a restart.
func NewLocalStore() store.IStore {
	return &storeImpl{
		data: xsync.NewMapOf[string, string](),
	}
}

// check returns an error if the store is closed or the key is invalid.
func (s *storeImpl) check(key string) error {
	if s.closed.Load() {
		return store.NewError(store.RetCClosed, "store is closed")
	}
	return store.ValidateKey(key)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value string) error {
	if err := s.check(key); err != nil {
		return err
	}
	s.data.Store(key, value)
	return nil
}

func (s *storeImpl) SetIfUnset(key string, value string) (string, error) {
	if err := s.check(key); err != nil {
		return "", err
	}
	actual, _ := s.data.LoadOrStore(key, value)
	return actual, nil
}

func (s *storeImpl) Get(key string) (string, bool, error) {
	if err := s.check(key); err != nil {
		return "", false, err
	}
	val, ok := s.data.Load(key)
	return val, ok, nil
}

func (s *storeImpl) Delete(key string) error {
	if err := s.check(key); err != nil {
		return err
	}
	s.data.Delete(key)
	return nil
}

func (s *storeImpl) Has(key string) (bool, error) {
	if err := s.check(key); err != nil {
		return false, err
	}
	_, ok := s.data.Load(key)
	return ok, nil
}

func (s *storeImpl) Close() error {
	s.closed.Store(true)
	return nil
}
