package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dProxy/cmd/util"
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/ValentinKolb/dProxy/rpc/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	// AgentCommands represents the agent command group
	AgentCommands = &cobra.Command{
		Use:   "agent",
		Short: "Act as an agent against a running proxy",
	}

	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Answer the config fetch of the proxy and send a heartbeat",
		Long:  "Connects to the agent endpoint of a proxy, answers its config fetch with the given properties and measures a heartbeat round trip. The result is printed as yaml.",
		Args:  cobra.NoArgs,
		RunE:  runPing,
	}
)

func init() {
	util.SetupClientFlags(AgentCommands)

	pingCmd.Flags().String("app", "", util.WrapString("App code reported to the proxy"))
	pingCmd.Flags().Int("pid", 0, util.WrapString("Pid reported to the proxy (omitted if 0)"))
	pingCmd.Flags().StringSlice("prop", nil, util.WrapString("Additional reported properties, format key=value (comma separated)"))

	AgentCommands.AddCommand(pingCmd)
}

// Report is the outcome of a ping
type Report struct {
	Endpoint     string            `yaml:"endpoint"`
	FetchID      uint64            `yaml:"fetchId"`
	FetchProps   map[string]string `yaml:"fetchProperties,omitempty"`
	Reported     map[string]string `yaml:"reported,omitempty"`
	HeartbeatID  uint64            `yaml:"heartbeatId"`
	HeartbeatRTT time.Duration     `yaml:"heartbeatRtt"`
}

func runPing(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	props := make(map[string]string)
	for _, pair := range viper.GetStringSlice("prop") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid property %q, expected key=value", pair)
		}
		props[k] = v
	}
	if app := viper.GetString("app"); app != "" {
		props[common.PropAppCode] = app
	}
	if pid := viper.GetInt("pid"); pid != 0 {
		props["pid"] = strconv.Itoa(pid)
	}

	report, err := Ping(cmd.Context(), *util.GetClientConfig(), props)
	if err != nil {
		return err
	}

	return yaml.NewEncoder(os.Stdout).Encode(report)
}

// Ping performs the agent side of a connection handshake followed by one heartbeat
func Ping(ctx context.Context, config common.ClientConfig, props map[string]string) (*Report, error) {
	client, err := transport.Dial(ctx, config)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	fetch, err := receive(client, common.CodePidConfigInfoFetch)
	if err != nil {
		return nil, fmt.Errorf("waiting for config fetch: %w", err)
	}
	report := &Report{
		Endpoint:   config.Endpoint,
		FetchID:    fetch.Header.ID,
		FetchProps: fetch.Header.Properties,
		Reported:   props,
	}
	fetch.Release()

	body, err := json.Marshal(props)
	if err != nil {
		return nil, err
	}
	if err := client.Send(common.NewResponse(common.CodeRespAgentInfo, report.FetchID, body)); err != nil {
		return nil, fmt.Errorf("sending agent info: %w", err)
	}

	report.HeartbeatID = report.FetchID + 1
	start := time.Now()
	if err := client.Send(common.NewRequest(common.CodeHeartbeat, report.HeartbeatID, nil)); err != nil {
		return nil, fmt.Errorf("sending heartbeat: %w", err)
	}
	resp, err := receive(client, common.CodeRespHeartbeat)
	if err != nil {
		return nil, fmt.Errorf("waiting for heartbeat response: %w", err)
	}
	report.HeartbeatRTT = time.Since(start)
	defer resp.Release()

	if resp.Header.ID != report.HeartbeatID {
		return nil, fmt.Errorf("heartbeat response has id %d, expected %d", resp.Header.ID, report.HeartbeatID)
	}
	return report, nil
}

// receive reads datagrams until one with code arrives, dropping the rest
func receive(client *transport.Client, code common.CommandCode) (*common.Datagram, error) {
	for {
		dg, err := client.Receive()
		if err != nil {
			return nil, err
		}
		if dg.Header.Code == code {
			return dg, nil
		}
		dg.Release()
	}
}
