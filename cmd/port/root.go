package port

import (
	"fmt"

	"github.com/ValentinKolb/dProxy/cmd/util"
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	components *util.Components

	// PortCommands represents the port command group
	PortCommands = &cobra.Command{
		Use:                "port",
		Short:              "Inspect and reset negotiated telnet ports",
		PersistentPreRunE:  setupPorts,
		PersistentPostRunE: closePorts,
	}

	getCmd = &cobra.Command{
		Use:   "get [app]",
		Short: "Print the telnet port of an app, allocating one if none is stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := components.Ports.Port(args[0])
			if err != nil {
				return err
			}
			fmt.Println(p)
			return nil
		},
	}

	resetCmd = &cobra.Command{
		Use:   "reset [app]",
		Short: "Forget the stored telnet port of an app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !components.Ports.Dynamic() {
				fmt.Println("dynamic ports are disabled, nothing to reset")
				return nil
			}
			if err := components.Ports.Reset(args[0]); err != nil {
				return err
			}
			fmt.Println("reset successfully")
			return nil
		},
	}
)

func init() {
	util.SetupSessionFlags(PortCommands)
	PortCommands.PersistentFlags().String("log-level", "warn", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	PortCommands.AddCommand(getCmd)
	PortCommands.AddCommand(resetCmd)
}

// setupPorts opens the durable KV store and builds the port negotiator
func setupPorts(cmd *cobra.Command, _ []string) error {
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

func closePorts(_ *cobra.Command, _ []string) error {
	if components == nil {
		return nil
	}
	return components.Close()
}
