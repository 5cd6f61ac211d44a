package processor

import (
	"sync"
	"testing"

	"github.com/ValentinKolb/dProxy/lib/meta"
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	id      uuid.UUID
	ip      string
	mu      sync.Mutex
	written []*common.Datagram
}

func newFakeChannel(ip string) *fakeChannel {
	return &fakeChannel{id: uuid.New(), ip: ip}
}

func (c *fakeChannel) ID() uuid.UUID    { return c.id }
func (c *fakeChannel) RemoteIP() string { return c.ip }
func (c *fakeChannel) Close() error     { return nil }

func (c *fakeChannel) Write(dg *common.Datagram) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, dg)
	return nil
}

func TestHeartbeat(t *testing.T) {
	ch := newFakeChannel("10.0.0.7")
	req := common.NewRequest(common.CodeHeartbeat, 17, nil)

	NewHeartbeat().Process(ch, req)

	assert.True(t, req.Released())
	require.Len(t, ch.written, 1)
	assert.Equal(t, common.CodeRespHeartbeat, ch.written[0].Header.Code)
	assert.Equal(t, uint64(17), ch.written[0].Header.ID)
	assert.Equal(t, common.FlagResponse, ch.written[0].Header.Flag)
}

func TestAgentInfo(t *testing.T) {
	stores := meta.NewStores()
	registry := NewRegistry()
	p := NewAgentInfo(stores, registry)
	ch := newFakeChannel("10.0.0.7")

	t.Run("AppScoped", func(t *testing.T) {
		dg := common.NewResponse(common.CodeRespAgentInfo, 1, []byte(`{"appCode":"demo","pid":"4711","agentVersion":"2.0.3"}`))
		p.Process(ch, dg)
		assert.True(t, dg.Released())

		app, _ := stores.App("demo")
		pid, err := app.Int("pid")
		require.NoError(t, err)
		assert.Equal(t, 4711, pid)

		agent, ok := registry.Lookup("demo")
		require.True(t, ok)
		assert.Equal(t, "10.0.0.7", agent.IP)
		assert.Equal(t, ch.ID(), agent.ChannelID)
	})

	t.Run("AppCodeFromHeader", func(t *testing.T) {
		dg := common.NewResponse(common.CodeRespAgentInfo, 2, []byte(`{"pid":"42"}`))
		dg.SetProperty(common.PropAppCode, "other")
		p.Process(ch, dg)

		app, _ := stores.App("other")
		v, _ := app.Local("pid")
		assert.Equal(t, "42", v)
	})

	t.Run("Shared", func(t *testing.T) {
		dg := common.NewResponse(common.CodeRespAgentInfo, 3, []byte(`{"agentVersion":"2.0.4"}`))
		p.Process(ch, dg)
		assert.Equal(t, "2.0.4", stores.Shared().StringOr("agentVersion", ""))
	})

	t.Run("Malformed", func(t *testing.T) {
		dg := common.NewResponse(common.CodeRespAgentInfo, 4, []byte(`not json`))
		p.Process(ch, dg)
		assert.True(t, dg.Released(), "malformed datagrams are released too")
	})

	t.Run("ChannelInactive", func(t *testing.T) {
		other := newFakeChannel("10.0.0.8")
		p.Process(other, common.NewResponse(common.CodeRespAgentInfo, 5, []byte(`{"appCode":"third"}`)))

		p.ChannelInactive(ch)

		_, ok := registry.Lookup("demo")
		assert.False(t, ok)
		_, ok = registry.Lookup("other")
		assert.False(t, ok)
		_, ok = registry.Lookup("third")
		assert.True(t, ok, "agents of other channels stay registered")
	})
}

func TestRegistryReRegister(t *testing.T) {
	r := NewRegistry()
	first := newFakeChannel("10.0.0.7")
	second := newFakeChannel("10.0.0.8")

	r.Register("demo", first, nil)
	r.Register("demo", second, nil)

	assert.Empty(t, r.Unregister(first), "a stale channel does not remove the new registration")
	agent, ok := r.Lookup("demo")
	require.True(t, ok)
	assert.Equal(t, second.ID(), agent.ChannelID)

	assert.Equal(t, []string{"demo"}, r.Unregister(second))
	assert.Empty(t, r.Agents())
}
