package serve

import (
	"net/http"
	"net/http/httptest"
	"testing"

	cmdUtil "github.com/ValentinKolb/dProxy/cmd/util"
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/ValentinKolb/dProxy/rpc/processor"
	"github.com/ValentinKolb/dProxy/rpc/router"
	"github.com/ValentinKolb/dProxy/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newTestEndpoints(t *testing.T) *endpoints {
	t.Helper()

	components, err := cmdUtil.BuildComponents(&common.ServerConfig{KVBackend: common.KVBackendMemory}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { components.Close() })

	registry := processor.NewRegistry()
	r, err := router.New([]router.IProcessor{processor.NewHeartbeat()}, router.Config{})
	require.NoError(t, err)

	return &endpoints{
		components: components,
		registry:   registry,
		router:     r,
		transport:  transport.NewStats(),
	}
}

func get(t *testing.T, e *endpoints, path string) *httptest.ResponseRecorder {
	t.Helper()
	srv := newMetricsServer("127.0.0.1:0", e)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEndpoints(t)

	body := get(t, e, "/metrics").Body.String()
	assert.Contains(t, body, "dproxy_session_starts_total 0")
	assert.Contains(t, body, "dproxy_router_unknown_code_total 0")
	assert.Contains(t, body, `dproxy_router_dispatched_total{code="-1"} 0`)
	assert.Contains(t, body, "dproxy_transport_channels_active 0")
}

func TestMetaEndpoint(t *testing.T) {
	e := newTestEndpoints(t)
	require.NoError(t, e.components.Stores.Shared().Put("region", "eu"))
	app, err := e.components.Stores.App("demo")
	require.NoError(t, err)
	require.NoError(t, app.Put("pid", "4711"))

	var dump metaDump
	require.NoError(t, yaml.Unmarshal(get(t, e, "/meta").Body.Bytes(), &dump))
	assert.Equal(t, "eu", dump.Shared["region"])
	assert.Equal(t, "4711", dump.Apps["demo"]["pid"])
	assert.Equal(t, "eu", dump.Apps["demo"]["region"], "app view includes shared entries")
}

func TestAgentsEndpointEmpty(t *testing.T) {
	e := newTestEndpoints(t)
	assert.Equal(t, "[]\n", get(t, e, "/agents").Body.String())
}

func TestPidFromProxyEnricher(t *testing.T) {
	dg := common.NewRequest(common.CodePidConfigInfoFetch, 1, nil)
	pidFromProxy(true)(dg, nil)
	v, ok := dg.Property(common.PropPidFromProxy)
	require.True(t, ok)
	assert.Equal(t, "true", v)
}
