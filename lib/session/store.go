package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("session")

const (
	// MaxIllegalVersionCount bounds the attempts made by Get when versions mismatch.
	MaxIllegalVersionCount = 2
	// DefaultRetryBackoff is the delay between two attempts after a version mismatch.
	DefaultRetryBackoff = 3 * time.Second
	// DefaultExpectedVersion is the version of the diagnostics processes shipped with this release.
	DefaultExpectedVersion = "0.3.0"
)

// DefaultShutdownCommand is written to a diagnostics process reporting an illegal version.
var DefaultShutdownCommand = []byte("shutdown\n")

// Config configures a session Store.
type Config struct {
	// ExpectedVersion is the only version Get accepts. Empty means DefaultExpectedVersion.
	ExpectedVersion string
	// MaxAttempts overrides MaxIllegalVersionCount when > 0.
	MaxAttempts int
	// RetryBackoff overrides DefaultRetryBackoff when > 0.
	RetryBackoff time.Duration
	// ShutdownCommand overrides DefaultShutdownCommand when non-nil.
	ShutdownCommand []byte
}

// Store hands out verified sessions to diagnostics processes, starting them on demand.
type Store struct {
	cfg       Config
	connector Connector
	starter   Starter
	pids      PidResolver
	ports     PortResolver

	// mu serializes session acquisition across all keys
	mu      sync.Mutex
	anchors *xsync.MapOf[Key, *anchor]

	metrics         *metrics.Set
	starts          *metrics.Counter
	illegalVersions *metrics.Counter
	evictions       *metrics.Counter
	connectDuration *metrics.Histogram
}

// NewStore creates a session store with its own anchor map and metrics set.
func NewStore(cfg Config, connector Connector, starter Starter, pids PidResolver, ports PortResolver) *Store {
	if cfg.ExpectedVersion == "" {
		cfg.ExpectedVersion = DefaultExpectedVersion
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = MaxIllegalVersionCount
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.ShutdownCommand == nil {
		cfg.ShutdownCommand = DefaultShutdownCommand
	}

	set := metrics.NewSet()
	return &Store{
		cfg:             cfg,
		connector:       connector,
		starter:         starter,
		pids:            pids,
		ports:           ports,
		anchors:         xsync.NewMapOf[Key, *anchor](),
		metrics:         set,
		starts:          set.NewCounter("dproxy_session_starts_total"),
		illegalVersions: set.NewCounter("dproxy_session_illegal_version_total"),
		evictions:       set.NewCounter("dproxy_session_evictions_total"),
		connectDuration: set.NewHistogram("dproxy_session_connect_duration_seconds"),
	}
}

// Metrics returns the metrics set of the store.
func (s *Store) Metrics() *metrics.Set {
	return s.metrics
}

// Anchors returns the keys with a live anchor, sorted by app code and pid.
func (s *Store) Anchors() []Key {
	keys := make([]Key, 0, s.anchors.Size())
	s.anchors.Range(func(k Key, _ *anchor) bool {
		keys = append(keys, k)
		return true
	})
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].AppCode != keys[j].AppCode {
			return keys[i].AppCode < keys[j].AppCode
		}
		return keys[i].Pid < keys[j].Pid
	})
	return keys
}

// --------------------------------------------------------------------------
// Public API
// --------------------------------------------------------------------------

// Get returns a session whose version equals the expected version.
//
// A mismatching diagnostics process is shut down, its anchor evicted and its
// port reset before the next attempt, which follows after the retry backoff.
// After the last mismatch Get fails with ErrIllegalVersion. Failures to connect
// or start are returned as *InitError without further attempts.
func (s *Store) Get(ctx context.Context, appCode string, pid int) (Session, error) {
	key := Key{AppCode: appCode, Pid: pid}

	for i := 0; i < s.cfg.MaxAttempts; i++ {
		if i > 0 {
			if err := s.backoff(ctx); err != nil {
				return nil, err
			}
		}

		res := s.attempt(ctx, key)
		switch res.kind {
		case verified:
			return res.session, nil
		case fatal:
			return nil, res.err
		case mismatch:
			log.Warningf("attempt %d/%d for %s found illegal version", i+1, s.cfg.MaxAttempts, key)
		}
	}

	log.Errorf("illegal version of %s can not be resolved", key)
	return nil, ErrIllegalVersion
}

// TryGet connects to an already running diagnostics process of appCode. It never
// starts a process and does not check the version. If nothing is listening the
// result is (nil, false, nil).
func (s *Store) TryGet(ctx context.Context, appCode string) (Session, bool, error) {
	pid, err := s.pids.Resolve(appCode)
	if err != nil {
		return nil, false, fmt.Errorf("resolving pid of app %q: %w", appCode, err)
	}

	sess, err := s.connect(ctx, Key{AppCode: appCode, Pid: pid})
	if err != nil {
		log.Debugf("no running diagnostics process for app %q: %v", appCode, err)
		return nil, false, nil
	}
	return sess, true, nil
}

// --------------------------------------------------------------------------
// Attempts
// --------------------------------------------------------------------------

type outcomeKind int

const (
	verified outcomeKind = iota
	mismatch
	fatal
)

// outcome is the result of a single Get attempt.
type outcome struct {
	kind    outcomeKind
	session Session
	err     error
}

func (s *Store) attempt(ctx context.Context, key Key) outcome {
	sess, err := s.acquire(ctx, key)
	if err != nil {
		return outcome{kind: fatal, err: err}
	}

	version, err := sess.Version()
	if err != nil {
		_ = sess.Close()
		s.discard(key)
		return outcome{kind: fatal, err: &InitError{Key: key, Err: fmt.Errorf("reading version: %w", err)}}
	}

	if version == s.cfg.ExpectedVersion {
		return outcome{kind: verified, session: sess}
	}

	log.Warningf("diagnostics version of %s is illegal, expected [%s], got [%s]", key, s.cfg.ExpectedVersion, version)
	s.illegalVersions.Inc()
	_ = sess.Write(s.cfg.ShutdownCommand)
	_ = sess.Close()
	s.discard(key)
	return outcome{kind: mismatch}
}

func (s *Store) backoff(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.RetryBackoff)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --------------------------------------------------------------------------
// Acquisition
// --------------------------------------------------------------------------

// acquire returns a connected, unverified session.
func (s *Store) acquire(ctx context.Context, key Key) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, err := s.connect(ctx, key); err == nil {
		return sess, nil
	}

	sess, err := s.ensureStarted(ctx, key)
	if err != nil {
		s.discard(key)
		return nil, &InitError{Key: key, Err: err}
	}
	return sess, nil
}

// ensureStarted connects to the process of an existing anchor, or force starts it.
func (s *Store) ensureStarted(ctx context.Context, key Key) (Session, error) {
	if _, ok := s.anchors.Load(key); ok {
		if sess, err := s.connect(ctx, key); err == nil {
			return sess, nil
		}
	}
	return s.forceStart(ctx, key)
}

func (s *Store) forceStart(ctx context.Context, key Key) (Session, error) {
	port, err := s.ports.Port(key.AppCode)
	if err != nil {
		return nil, fmt.Errorf("resolving port: %w", err)
	}

	a, _ := s.anchors.LoadOrCompute(key, func() *anchor {
		return &anchor{key: key}
	})

	started, err := a.start(ctx, s.starter, port)
	if err != nil {
		return nil, fmt.Errorf("starting diagnostics process: %w", err)
	}
	if started {
		s.starts.Inc()
		log.Infof("started diagnostics process for %s on port %d", key, port)
	}

	return s.connect(ctx, key)
}

// connect dials the current port of the key's application.
func (s *Store) connect(ctx context.Context, key Key) (Session, error) {
	port, err := s.ports.Port(key.AppCode)
	if err != nil {
		return nil, fmt.Errorf("resolving port: %w", err)
	}

	start := time.Now()
	sess, err := s.connector.Dial(ctx, port)
	s.connectDuration.UpdateDuration(start)
	if err != nil {
		return nil, fmt.Errorf("connecting to port %d: %w", port, err)
	}
	return sess, nil
}

// discard evicts the anchor of key and resets the port of its application.
func (s *Store) discard(key Key) {
	if _, ok := s.anchors.LoadAndDelete(key); ok {
		s.evictions.Inc()
	}
	if err := s.ports.Reset(key.AppCode); err != nil {
		log.Warningf("resetting port of %s failed: %v", key, err)
	}
}
