package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Proxy server configuration struct
// --------------------------------------------------------------------------

// KV backends of the durable port store.
const (
	KVBackendSQLite = "sqlite"
	KVBackendMemory = "memory"
)

// ServerConfig holds all configuration parameters of the proxy.
type ServerConfig struct {
	// agent endpoint
	Endpoint      string
	TimeoutSecond int64
	MaxFrameSize  int

	// durable KV store
	DataDir   string
	KVBackend string

	// port negotiation
	PidFromProxy bool
	TelnetPort   int

	// sessions
	ExpectedVersion     string
	ConnectTimeout      time.Duration
	VersionRetryBackoff time.Duration
	StartCommand        string
	AppPids             map[string]int

	// observability
	MetricsEndpoint string
	StatsInterval   time.Duration
	LogLevel        string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Agent Endpoint")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Max Frame Size", fmt.Sprintf("%d bytes", c.MaxFrameSize))

	addSection("Storage")
	addField("KV Backend", c.KVBackend)
	if c.KVBackend == KVBackendSQLite {
		addField("Data Directory", c.DataDir)
	}

	addSection("Port Negotiation")
	if c.PidFromProxy {
		addField("Mode", "dynamic (per app)")
	} else {
		addField("Mode", "fixed")
		addField("Telnet Port", strconv.Itoa(c.TelnetPort))
	}

	addSection("Sessions")
	addField("Expected Version", c.ExpectedVersion)
	addField("Connect Timeout", c.ConnectTimeout.String())
	addField("Retry Backoff", c.VersionRetryBackoff.String())
	if c.StartCommand != "" {
		addField("Start Command", c.StartCommand)
	} else {
		addField("Start Command", "(none)")
	}

	if len(c.AppPids) > 0 {
		addSection("Static App Pids")
		apps := make([]string, 0, len(c.AppPids))
		for app := range c.AppPids {
			apps = append(apps, app)
		}
		sort.Strings(apps)
		for _, app := range apps {
			addField(app, strconv.Itoa(c.AppPids[app]))
		}
	}

	addSection("Observability")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}
	if c.StatsInterval > 0 {
		addField("Stats Interval", c.StatsInterval.String())
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// Agent client configuration struct
// --------------------------------------------------------------------------

// ClientConfig configures the agent side client used for debugging a proxy.
type ClientConfig struct {
	Endpoint      string
	TimeoutSecond int
	MaxFrameSize  int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder
	sb.WriteString("\nAGENT CLIENT\n")
	sb.WriteString(fmt.Sprintf("  %-22s: %s\n", "Endpoint", c.Endpoint))
	sb.WriteString(fmt.Sprintf("  %-22s: %d sec\n", "Timeout", c.TimeoutSecond))
	return sb.String()
}

// ParseAppPids parses "app=pid" pairs.
func ParseAppPids(pairs []string) (map[string]int, error) {
	result := make(map[string]int, len(pairs))
	for _, pair := range pairs {
		app, pidStr, ok := strings.Cut(pair, "=")
		if !ok || app == "" {
			return nil, fmt.Errorf("invalid app pid %q, expected app=pid", pair)
		}
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			return nil, fmt.Errorf("invalid pid in %q: %w", pair, err)
		}
		result[app] = pid
	}
	return result, nil
}
