package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dProxy/cmd/agent"
	"github.com/ValentinKolb/dProxy/cmd/port"
	"github.com/ValentinKolb/dProxy/cmd/serve"
	"github.com/ValentinKolb/dProxy/cmd/session"
	"github.com/ValentinKolb/dProxy/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dproxy",
		Short: "agent proxy for attaching diagnostics processes",
		Long: fmt.Sprintf(`dProxy (v%s)

A proxy sitting between diagnostics agents and a central UI. It negotiates
telnet ports per application, starts and caches diagnostics sessions and
routes agent messages by command code.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dProxy",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dProxy v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(session.SessionCommands)
	RootCmd.AddCommand(port.PortCommands)
	RootCmd.AddCommand(agent.AgentCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
