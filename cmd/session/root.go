package session

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/ValentinKolb/dProxy/cmd/util"
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	components *util.Components

	// SessionCommands represents the session command group
	SessionCommands = &cobra.Command{
		Use:                "session",
		Short:              "Connect to the diagnostics process of an app",
		PersistentPreRunE:  setupSessions,
		PersistentPostRunE: closeSessions,
	}

	getCmd = &cobra.Command{
		Use:   "get",
		Short: "Connect to a diagnostics process with the expected version, starting it if needed",
		Args:  cobra.NoArgs,
		RunE:  runGet,
	}

	tryCmd = &cobra.Command{
		Use:   "try",
		Short: "Connect to an already running diagnostics process, never starts one",
		Args:  cobra.NoArgs,
		RunE:  runTry,
	}
)

func init() {
	util.SetupSessionFlags(SessionCommands)
	SessionCommands.PersistentFlags().String("app", "", util.WrapString("Code of the application"))
	SessionCommands.PersistentFlags().String("log-level", "warn", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	getCmd.Flags().Int("pid", 0, util.WrapString("Pid of the target process. Resolved from --app-pids if 0"))

	SessionCommands.AddCommand(getCmd)
	SessionCommands.AddCommand(tryCmd)
}

// setupSessions builds the session store from the flags
func setupSessions(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}

	config := &common.ServerConfig{}
	if err := util.ReadSessionConfig(config); err != nil {
		return err
	}

	var err error
	components, err = util.BuildComponents(config, nil)
	return err
}

func closeSessions(_ *cobra.Command, _ []string) error {
	if components == nil {
		return nil
	}
	return components.Close()
}

func runGet(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	app := viper.GetString("app")
	pid := viper.GetInt("pid")
	if pid == 0 {
		resolved, err := components.Pids.Resolve(app)
		if err != nil {
			return err
		}
		pid = resolved
	}

	sess, err := components.Sessions.Get(ctx, app, pid)
	if err != nil {
		return err
	}
	defer sess.Close()

	return printVersion(sess.Version)
}

func runTry(cmd *cobra.Command, _ []string) error {
	sess, ok, err := components.Sessions.TryGet(cmd.Context(), viper.GetString("app"))
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("no diagnostics process is running")
		return nil
	}
	defer sess.Close()

	return printVersion(sess.Version)
}

func printVersion(version func() (string, error)) error {
	v, err := version()
	if err != nil {
		return err
	}
	fmt.Printf("connected, version %s\n", v)
	return nil
}
