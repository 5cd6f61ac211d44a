package port

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/ValentinKolb/dProxy/lib/meta"
	"github.com/ValentinKolb/dProxy/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("port")

const (
	// DefaultFixedPort is the well-known telnet port used when pids can not be discovered through the proxy.
	DefaultFixedPort = 3658
	// DefaultKeyPrefix is the namespace of the persisted per-app port keys.
	DefaultKeyPrefix = "dproxy.app"
	// TelnetPortKey is the meta key (and key suffix in the KV store) holding the telnet port.
	TelnetPortKey = "telnet.port"
)

// ErrInvalidArgument is returned when dynamic mode is asked for a port without an app code.
var ErrInvalidArgument = errors.New("invalid argument")

// Config selects the negotiation mode.
type Config struct {
	// PidFromProxy enables dynamic per-app ports.
	PidFromProxy bool
	// FixedPort is returned in fixed mode. Zero means DefaultFixedPort.
	FixedPort int
	// KeyPrefix namespaces persisted keys. Empty means DefaultKeyPrefix.
	KeyPrefix string
}

// Negotiator resolves the telnet port of the diagnostics process of an application
// and remembers dynamic assignments in a durable KV store.
type Negotiator struct {
	cfg    Config
	kv     store.IStore
	stores *meta.Stores

	// Allocate returns a free local port. Replaced in tests.
	Allocate func() (int, error)
}

// New creates a negotiator. kv may be nil in fixed mode.
func New(cfg Config, kv store.IStore, stores *meta.Stores) *Negotiator {
	if cfg.FixedPort == 0 {
		cfg.FixedPort = DefaultFixedPort
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return &Negotiator{
		cfg:      cfg,
		kv:       kv,
		stores:   stores,
		Allocate: FreePort,
	}
}

// Dynamic reports whether the negotiator runs in per-app mode.
func (n *Negotiator) Dynamic() bool {
	return n.cfg.PidFromProxy
}

// Key returns the KV key the port of appCode is persisted under.
func (n *Negotiator) Key(appCode string) string {
	return n.cfg.KeyPrefix + ":" + appCode + ":" + TelnetPortKey
}

// Port returns the telnet port for appCode.
//
// In fixed mode the configured port is returned for every app and recorded in
// the shared meta store. In dynamic mode a persisted port is reused, otherwise
// a free port is allocated and persisted. Concurrent first calls for the same
// app converge on a single port.
func (n *Negotiator) Port(appCode string) (int, error) {
	if !n.cfg.PidFromProxy {
		if n.stores != nil {
			_ = n.stores.Shared().Put(TelnetPortKey, strconv.Itoa(n.cfg.FixedPort))
		}
		return n.cfg.FixedPort, nil
	}

	if appCode == "" {
		return 0, fmt.Errorf("%w: app code must not be empty in dynamic port mode", ErrInvalidArgument)
	}

	key := n.Key(appCode)
	raw, found, err := n.kv.Get(key)
	if err != nil {
		return 0, fmt.Errorf("reading port of app %s: %w", appCode, err)
	}

	if found && raw != "" {
		if p, err := strconv.Atoi(raw); err == nil {
			log.Infof("telnet port of app %s is %d", appCode, p)
			return p, n.mirror(appCode, p)
		}
		log.Warningf("ignoring unparsable telnet port %q of app %s", raw, appCode)
	}

	p, err := n.Allocate()
	if err != nil {
		return 0, fmt.Errorf("allocating port for app %s: %w", appCode, err)
	}

	if found {
		// an empty or broken value is overwritten unconditionally
		if err := n.kv.Set(key, strconv.Itoa(p)); err != nil {
			return 0, fmt.Errorf("persisting port of app %s: %w", appCode, err)
		}
	} else {
		actual, err := n.kv.SetIfUnset(key, strconv.Itoa(p))
		if err != nil {
			return 0, fmt.Errorf("persisting port of app %s: %w", appCode, err)
		}
		if winner, err := strconv.Atoi(actual); err == nil {
			p = winner
		}
	}

	log.Infof("selected telnet port %d for app %s", p, appCode)
	return p, n.mirror(appCode, p)
}

// Reset forgets the persisted port of appCode so the next Port call allocates a new one.
// Reset is a no-op in fixed mode.
func (n *Negotiator) Reset(appCode string) error {
	if !n.cfg.PidFromProxy {
		return nil
	}
	if appCode == "" {
		return fmt.Errorf("%w: app code must not be empty in dynamic port mode", ErrInvalidArgument)
	}
	if err := n.kv.Delete(n.Key(appCode)); err != nil {
		return fmt.Errorf("resetting port of app %s: %w", appCode, err)
	}
	log.Infof("reset telnet port of app %s", appCode)
	return n.unmirror(appCode)
}

// mirror keeps the app meta store in line with the KV store.
func (n *Negotiator) mirror(appCode string, p int) error {
	if n.stores == nil {
		return nil
	}
	app, err := n.stores.App(appCode)
	if err != nil {
		return err
	}
	return app.Put(TelnetPortKey, strconv.Itoa(p))
}

func (n *Negotiator) unmirror(appCode string) error {
	if n.stores == nil {
		return nil
	}
	app, err := n.stores.App(appCode)
	if err != nil {
		return err
	}
	return app.Delete(TelnetPortKey)
}

// FreePort asks the OS for a free loopback TCP port.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
