package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dProxy/cmd/util"
	"github.com/ValentinKolb/dProxy/rpc/codec"
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/ValentinKolb/dProxy/rpc/processor"
	"github.com/ValentinKolb/dProxy/rpc/router"
	"github.com/ValentinKolb/dProxy/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log = logger.GetLogger("cmd")

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dProxy server",
		Long:    `Start the dProxy server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DPROXY_<flag> (e.g. DPROXY_PID_FROM_PROXY=true)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:9880", cmdUtil.WrapString("The address on which agents connect (e.g. 0.0.0.0:9880)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 60, cmdUtil.WrapString("Seconds an agent may stay silent before its connection is closed. Also bounds every write"))

	key = "max-frame-size"
	ServeCmd.PersistentFlags().Int(key, codec.DefaultMaxFrameSize, cmdUtil.WrapString("Largest accepted frame in bytes"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the HTTP server exposing /metrics, /agents and /meta (disabled if empty)"))

	key = "stats-interval"
	ServeCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString("Interval of the transport statistics log (disabled if 0)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	cmdUtil.SetupSessionFlags(ServeCmd)
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.MaxFrameSize = viper.GetInt("max-frame-size")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.StatsInterval = viper.GetDuration("stats-interval")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if serveCmdConfig.Endpoint == "" {
		return fmt.Errorf("endpoint must not be empty")
	}
	if serveCmdConfig.MaxFrameSize <= 0 {
		return fmt.Errorf("max-frame-size must be positive, got %d", serveCmdConfig.MaxFrameSize)
	}

	return cmdUtil.ReadSessionConfig(serveCmdConfig)
}

// run starts the dProxy server and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	if err := common.InitLoggers(serveCmdConfig.LogLevel); err != nil {
		return err
	}
	log.Infof("starting dProxy with configuration:\n%s", serveCmdConfig)

	components, err := cmdUtil.BuildComponents(serveCmdConfig, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := components.Close(); err != nil {
			log.Warningf("closing kv store failed: %v", err)
		}
	}()

	registry := processor.NewRegistry()
	r, err := router.New(
		[]router.IProcessor{
			processor.NewHeartbeat(),
			processor.NewAgentInfo(components.Stores, registry),
		},
		router.Config{Enrichers: []router.Enricher{pidFromProxy(serveCmdConfig.PidFromProxy)}},
	)
	if err != nil {
		return err
	}

	server := transport.NewServer(*serveCmdConfig, r, nil)
	if err := server.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if serveCmdConfig.MetricsEndpoint != "" {
		metricsServer = newMetricsServer(serveCmdConfig.MetricsEndpoint, &endpoints{
			components: components,
			registry:   registry,
			router:     r,
			transport:  server.Stats(),
		})
		go func() {
			log.Infof("serving metrics on %s", serveCmdConfig.MetricsEndpoint)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("metrics server failed: %v", err)
			}
		}()
	}

	go server.Stats().ReportEvery(ctx, serveCmdConfig.StatsInterval)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve() }()

	select {
	case <-ctx.Done():
		log.Infof("shutting down")
	case err = <-errCh:
		if err != nil {
			log.Errorf("agent server stopped: %v", err)
		}
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		cancel()
	}
	if cerr := server.Close(); cerr != nil {
		log.Warningf("closing agent server failed: %v", cerr)
	}
	return err
}

// pidFromProxy tells every agent whether the proxy negotiates per-app ports
func pidFromProxy(enabled bool) router.Enricher {
	value := strconv.FormatBool(enabled)
	return func(dg *common.Datagram, _ transport.Channel) {
		dg.SetProperty(common.PropPidFromProxy, value)
	}
}
