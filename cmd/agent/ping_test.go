package agent

import (
	"context"
	"testing"

	"github.com/ValentinKolb/dProxy/lib/meta"
	"github.com/ValentinKolb/dProxy/lib/pid"
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/ValentinKolb/dProxy/rpc/processor"
	"github.com/ValentinKolb/dProxy/rpc/router"
	"github.com/ValentinKolb/dProxy/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPingRegistersAgent(t *testing.T) {
	stores := meta.NewStores()
	registry := processor.NewRegistry()

	r, err := router.New([]router.IProcessor{
		processor.NewHeartbeat(),
		processor.NewAgentInfo(stores, registry),
	}, router.Config{})
	require.NoError(t, err)

	srv := transport.NewServer(common.ServerConfig{Endpoint: "127.0.0.1:0", TimeoutSecond: 5}, r, nil)
	require.NoError(t, srv.Listen())
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { srv.Close() })

	report, err := Ping(context.Background(), common.ClientConfig{
		Endpoint:      srv.Addr().String(),
		TimeoutSecond: 5,
	}, map[string]string{
		common.PropAppCode: "demo",
		"pid":              "4711",
		"agentVersion":     "2.0.7",
	})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", report.FetchProps[common.PropAgentIP])
	assert.Equal(t, report.FetchID+1, report.HeartbeatID)

	// the agent info frame is handled before the heartbeat on the same connection
	agent, ok := registry.Lookup("demo")
	require.True(t, ok)
	assert.Equal(t, "2.0.7", agent.Properties["agentVersion"])

	p, err := pid.NewResolver(stores, nil).Resolve("demo")
	require.NoError(t, err)
	assert.Equal(t, 4711, p)
}
