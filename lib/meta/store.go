package meta

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("meta")

var (
	// ErrInvalidArgument is returned for empty keys and empty application codes.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned by the required getters when a key is absent in every scope.
	ErrNotFound = errors.New("property not found")
)

// ParseError is returned when a present value can not be decoded as the requested type.
type ParseError struct {
	Key   string
	Value string
	Type  string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("property %q: can not parse %q as %s: %v", e.Key, e.Value, e.Type, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DateLayouts are tried in order when decoding a date property.
var DateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// MetaStore is a string property store with typed accessors.
//
// A MetaStore is either a shared scope (shared == nil) or an app-first
// composite of a private application scope and the shared scope. A composite
// writes every entry to both scopes and reads from the application scope first.
type MetaStore struct {
	own    *xsync.MapOf[string, string]
	shared *MetaStore
}

func newScope() *MetaStore {
	return &MetaStore{own: xsync.NewMapOf[string, string]()}
}

func newAppFirst(shared *MetaStore) *MetaStore {
	return &MetaStore{own: xsync.NewMapOf[string, string](), shared: shared}
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// Put stores the value under key. On an application store the shared scope receives the write as well.
func (m *MetaStore) Put(key, value string) error {
	if key == "" {
		return fmt.Errorf("%w: key must not be empty", ErrInvalidArgument)
	}
	m.own.Store(key, value)
	if m.shared != nil {
		return m.shared.Put(key, value)
	}
	return nil
}

// Update puts every entry of props. Nothing is written if any key is empty.
func (m *MetaStore) Update(props map[string]string) error {
	if _, ok := props[""]; ok {
		return fmt.Errorf("%w: key must not be empty", ErrInvalidArgument)
	}
	for k, v := range props {
		m.own.Store(k, v)
	}
	if m.shared != nil {
		return m.shared.Update(props)
	}
	return nil
}

// Delete removes key. On an application store the shared entry is removed as
// well, unless another application has written a different value since.
func (m *MetaStore) Delete(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key must not be empty", ErrInvalidArgument)
	}
	old, ok := m.own.LoadAndDelete(key)
	if ok && m.shared != nil {
		m.shared.own.Compute(key, func(cur string, loaded bool) (string, bool) {
			return cur, !loaded || cur == old
		})
	}
	return nil
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// Lookup returns the raw value for key, consulting the application scope first.
func (m *MetaStore) Lookup(key string) (string, bool) {
	if v, ok := m.own.Load(key); ok {
		return v, true
	}
	if m.shared != nil {
		return m.shared.Lookup(key)
	}
	return "", false
}

// Local returns the value for key from this store's own scope, ignoring the shared fallback.
// Values only an application itself can report (e.g. its pid) are read this way.
func (m *MetaStore) Local(key string) (string, bool) {
	return m.own.Load(key)
}

// ContainsKey reports whether key is present in any scope visible to this store.
func (m *MetaStore) ContainsKey(key string) bool {
	_, ok := m.Lookup(key)
	return ok
}

// AgentInfo returns a snapshot of all visible entries. Application entries
// overwrite shared entries with the same key.
func (m *MetaStore) AgentInfo() map[string]string {
	result := make(map[string]string)
	if m.shared != nil {
		for k, v := range m.shared.AgentInfo() {
			result[k] = v
		}
	}
	m.own.Range(func(k, v string) bool {
		result[k] = v
		return true
	})
	return result
}

func (m *MetaStore) String(key string) (string, error) {
	v, ok := m.Lookup(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}

func (m *MetaStore) StringOr(key, def string) string {
	if v, ok := m.Lookup(key); ok {
		return v
	}
	return def
}

func (m *MetaStore) Bool(key string) (bool, error) {
	return required(m, key, "bool", strconv.ParseBool)
}

func (m *MetaStore) BoolOr(key string, def bool) (bool, error) {
	return withDefault(m, key, "bool", def, strconv.ParseBool)
}

func (m *MetaStore) Int(key string) (int, error) {
	return required(m, key, "int", strconv.Atoi)
}

func (m *MetaStore) IntOr(key string, def int) (int, error) {
	return withDefault(m, key, "int", def, strconv.Atoi)
}

func (m *MetaStore) Int64(key string) (int64, error) {
	return required(m, key, "int64", parseInt64)
}

func (m *MetaStore) Int64Or(key string, def int64) (int64, error) {
	return withDefault(m, key, "int64", def, parseInt64)
}

func (m *MetaStore) Float32(key string) (float32, error) {
	return required(m, key, "float32", parseFloat32)
}

func (m *MetaStore) Float32Or(key string, def float32) (float32, error) {
	return withDefault(m, key, "float32", def, parseFloat32)
}

func (m *MetaStore) Float64(key string) (float64, error) {
	return required(m, key, "float64", parseFloat64)
}

func (m *MetaStore) Float64Or(key string, def float64) (float64, error) {
	return withDefault(m, key, "float64", def, parseFloat64)
}

func (m *MetaStore) Date(key string) (time.Time, error) {
	return required(m, key, "date", parseDate)
}

func (m *MetaStore) DateOr(key string, def time.Time) (time.Time, error) {
	return withDefault(m, key, "date", def, parseDate)
}

// --------------------------------------------------------------------------
// Decoding helpers
// --------------------------------------------------------------------------

func required[T any](m *MetaStore, key, typ string, parse func(string) (T, error)) (T, error) {
	var zero T
	raw, ok := m.Lookup(key)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return decode(key, raw, typ, parse)
}

func withDefault[T any](m *MetaStore, key, typ string, def T, parse func(string) (T, error)) (T, error) {
	raw, ok := m.Lookup(key)
	if !ok {
		return def, nil
	}
	return decode(key, raw, typ, parse)
}

func decode[T any](key, raw, typ string, parse func(string) (T, error)) (T, error) {
	v, err := parse(raw)
	if err != nil {
		var zero T
		return zero, &ParseError{Key: key, Value: raw, Type: typ, Err: err}
	}
	return v, nil
}

func parseInt64(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }

func parseFloat64(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

func parseFloat32(s string) (float32, error) {
	f, err := strconv.ParseFloat(s, 32)
	return float32(f), err
}

func parseDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range DateLayouts {
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
