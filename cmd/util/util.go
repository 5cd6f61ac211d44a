package util

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ValentinKolb/dProxy/lib/meta"
	"github.com/ValentinKolb/dProxy/lib/pid"
	"github.com/ValentinKolb/dProxy/lib/port"
	"github.com/ValentinKolb/dProxy/lib/session"
	"github.com/ValentinKolb/dProxy/lib/session/launcher"
	"github.com/ValentinKolb/dProxy/lib/session/telnet"
	"github.com/ValentinKolb/dProxy/lib/store"
	"github.com/ValentinKolb/dProxy/lib/store/lstore"
	"github.com/ValentinKolb/dProxy/lib/store/sqlstore"
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables read by dproxy
	EnvPrefix = "dproxy"

	// KVFileName is the name of the sqlite database inside the data directory
	KVFileName = "dproxy.db"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		if lineWidth > 0 && lineWidth+1+len(word) > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}
		currentLine.WriteString(word)
		lineWidth += len(word)
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and makes viper read DPROXY_* environment variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Shared flags
// --------------------------------------------------------------------------

// SetupStoreFlags adds the flags selecting the durable KV store
func SetupStoreFlags(cmd *cobra.Command) {
	key := "data-dir"
	cmd.PersistentFlags().String(key, "data", WrapString("Directory holding the sqlite database with the negotiated ports"))

	key = "kv-backend"
	cmd.PersistentFlags().String(key, common.KVBackendSQLite, WrapString("Backend of the durable KV store (sqlite, memory). Ports stored in memory are lost on restart"))
}

// SetupSessionFlags adds the flags needed to negotiate ports and reach diagnostics processes
func SetupSessionFlags(cmd *cobra.Command) {
	SetupStoreFlags(cmd)

	key := "pid-from-proxy"
	cmd.PersistentFlags().Bool(key, false, WrapString("Enables dynamic per-app telnet ports. When disabled every app shares the fixed telnet port"))

	key = "telnet-port"
	cmd.PersistentFlags().Int(key, port.DefaultFixedPort, WrapString("Telnet port used when dynamic ports are disabled"))

	key = "expected-version"
	cmd.PersistentFlags().String(key, session.DefaultExpectedVersion, WrapString("The only version of the diagnostics process that is accepted. Processes reporting another version are shut down"))

	key = "connect-timeout"
	cmd.PersistentFlags().Duration(key, telnet.DefaultConnectTimeout, WrapString("Timeout for connecting to a diagnostics process"))

	key = "version-retry-backoff"
	cmd.PersistentFlags().Duration(key, session.DefaultRetryBackoff, WrapString("Delay before retrying after a diagnostics process reported an illegal version"))

	key = "start-command"
	cmd.PersistentFlags().String(key, "", WrapString("Command starting a diagnostics process. The placeholders {app}, {pid} and {port} are replaced"))

	key = "app-pids"
	cmd.PersistentFlags().StringSlice(key, nil, WrapString("Static pids of apps whose agents do not report one, format app=pid (comma separated)"))
}

// SetupClientFlags adds the flags of commands that connect to a running proxy
func SetupClientFlags(cmd *cobra.Command) {
	key := "endpoint"
	cmd.PersistentFlags().String(key, "localhost:9880", WrapString("The agent endpoint of the proxy"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))
}

// --------------------------------------------------------------------------
// Config readers
// --------------------------------------------------------------------------

// ReadSessionConfig fills the store and session part of config from viper
func ReadSessionConfig(config *common.ServerConfig) error {
	config.DataDir = viper.GetString("data-dir")
	config.KVBackend = viper.GetString("kv-backend")
	config.PidFromProxy = viper.GetBool("pid-from-proxy")
	config.TelnetPort = viper.GetInt("telnet-port")
	config.ExpectedVersion = viper.GetString("expected-version")
	config.ConnectTimeout = viper.GetDuration("connect-timeout")
	config.VersionRetryBackoff = viper.GetDuration("version-retry-backoff")
	config.StartCommand = viper.GetString("start-command")

	switch config.KVBackend {
	case common.KVBackendSQLite, common.KVBackendMemory:
	default:
		return fmt.Errorf("invalid kv backend %s (expected one of: %s, %s)", config.KVBackend, common.KVBackendSQLite, common.KVBackendMemory)
	}

	pids, err := common.ParseAppPids(viper.GetStringSlice("app-pids"))
	if err != nil {
		return err
	}
	config.AppPids = pids
	return nil
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		Endpoint:      viper.GetString("endpoint"),
		TimeoutSecond: viper.GetInt("timeout"),
	}
}

// --------------------------------------------------------------------------
// Component factories
// --------------------------------------------------------------------------

// OpenStore opens the durable KV store selected by config
func OpenStore(config *common.ServerConfig) (store.IStore, error) {
	switch config.KVBackend {
	case common.KVBackendMemory:
		return lstore.NewLocalStore(), nil
	case common.KVBackendSQLite:
		return sqlstore.NewSQLStore(filepath.Join(config.DataDir, KVFileName))
	default:
		return nil, fmt.Errorf("invalid kv backend %s", config.KVBackend)
	}
}

// Components bundles the session side of the proxy
type Components struct {
	Stores   *meta.Stores
	KV       store.IStore
	Ports    *port.Negotiator
	Pids     *pid.Resolver
	Sessions *session.Store
}

// BuildComponents wires meta stores, port negotiation and the session store.
// stores may be nil, in which case a fresh set of meta stores is created.
func BuildComponents(config *common.ServerConfig, stores *meta.Stores) (*Components, error) {
	if stores == nil {
		stores = meta.NewStores()
	}

	kv, err := OpenStore(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open kv store: %w", err)
	}

	ports := port.New(port.Config{
		PidFromProxy: config.PidFromProxy,
		FixedPort:    config.TelnetPort,
	}, kv, stores)
	pids := pid.NewResolver(stores, config.AppPids)

	sessions := session.NewStore(
		session.Config{
			ExpectedVersion: config.ExpectedVersion,
			RetryBackoff:    config.VersionRetryBackoff,
		},
		telnet.NewConnector(config.ConnectTimeout),
		launcher.New(config.StartCommand, launcher.DefaultTimeout),
		pids,
		ports,
	)

	return &Components{
		Stores:   stores,
		KV:       kv,
		Ports:    ports,
		Pids:     pids,
		Sessions: sessions,
	}, nil
}

// Close releases the KV store
func (c *Components) Close() error {
	return c.KV.Close()
}
