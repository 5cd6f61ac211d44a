package router

import (
	"errors"
	"sync"
	"testing"

	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/ValentinKolb/dProxy/rpc/transport"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

type fakeChannel struct {
	id       uuid.UUID
	ip       string
	mu       sync.Mutex
	written  []*common.Datagram
	closed   bool
	writeErr error
}

func newFakeChannel(ip string) *fakeChannel {
	return &fakeChannel{id: uuid.New(), ip: ip}
}

func (c *fakeChannel) ID() uuid.UUID    { return c.id }
func (c *fakeChannel) RemoteIP() string { return c.ip }

func (c *fakeChannel) Write(dg *common.Datagram) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, dg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

type fakeProcessor struct {
	codes    []common.CommandCode
	mu       sync.Mutex
	received []common.CommandCode
	inactive int
}

func (p *fakeProcessor) Codes() []common.CommandCode { return p.codes }

func (p *fakeProcessor) Process(_ transport.Channel, dg *common.Datagram) {
	defer dg.Release()
	p.mu.Lock()
	p.received = append(p.received, dg.Header.Code)
	p.mu.Unlock()
}

func (p *fakeProcessor) ChannelInactive(transport.Channel) {
	p.inactive++
}

type fixedIDs uint64

func (f fixedIDs) NextID() uint64 { return uint64(f) }

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestNewRejectsDuplicateCodes(t *testing.T) {
	a := &fakeProcessor{codes: []common.CommandCode{common.CodeHeartbeat}}
	b := &fakeProcessor{codes: []common.CommandCode{common.CodeRespAgentInfo, common.CodeHeartbeat}}

	_, err := New([]IProcessor{a, b}, Config{})
	assert.ErrorIs(t, err, ErrDuplicateCode)
}

func TestOnActiveSendsConfigFetch(t *testing.T) {
	r, err := New(nil, Config{
		IDs: fixedIDs(42),
		Enrichers: []Enricher{func(dg *common.Datagram, ch transport.Channel) {
			dg.SetProperty(common.PropPidFromProxy, "true")
		}},
	})
	require.NoError(t, err)

	ch := newFakeChannel("10.0.0.7")
	r.OnActive(ch)

	require.Len(t, ch.written, 1)
	dg := ch.written[0]
	assert.Equal(t, common.CodePidConfigInfoFetch, dg.Header.Code)
	assert.Equal(t, uint64(42), dg.Header.ID)
	assert.Equal(t, common.FlagRequest, dg.Header.Flag)
	assert.Empty(t, dg.Body)

	ip, ok := dg.Property(common.PropAgentIP)
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.7", ip)
	v, _ := dg.Property(common.PropPidFromProxy)
	assert.Equal(t, "true", v)
}

func TestOnActiveFreshIDs(t *testing.T) {
	r, err := New(nil, Config{})
	require.NoError(t, err)

	ch := newFakeChannel("10.0.0.7")
	r.OnActive(ch)
	r.OnActive(ch)

	require.Len(t, ch.written, 2)
	assert.NotEqual(t, ch.written[0].Header.ID, ch.written[1].Header.ID)
}

func TestOnActiveWriteFailure(t *testing.T) {
	r, err := New(nil, Config{})
	require.NoError(t, err)

	ch := newFakeChannel("10.0.0.7")
	ch.writeErr = errors.New("broken pipe")
	assert.NotPanics(t, func() { r.OnActive(ch) })
}

func TestOnMessageDispatch(t *testing.T) {
	heartbeat := &fakeProcessor{codes: []common.CommandCode{common.CodeHeartbeat}}
	info := &fakeProcessor{codes: []common.CommandCode{common.CodeRespAgentInfo}}

	r, err := New([]IProcessor{heartbeat, info}, Config{})
	require.NoError(t, err)
	ch := newFakeChannel("10.0.0.7")

	r.OnMessage(ch, common.NewRequest(common.CodeHeartbeat, 1, nil))
	r.OnMessage(ch, common.NewResponse(common.CodeRespAgentInfo, 2, []byte("{}")))
	r.OnMessage(ch, common.NewRequest(common.CodeHeartbeat, 3, nil))

	assert.Equal(t, []common.CommandCode{common.CodeHeartbeat, common.CodeHeartbeat}, heartbeat.received)
	assert.Equal(t, []common.CommandCode{common.CodeRespAgentInfo}, info.received)
	assert.Equal(t, uint64(2), r.dispatched[common.CodeHeartbeat].Get())
}

func TestOnMessageUnknownCode(t *testing.T) {
	heartbeat := &fakeProcessor{codes: []common.CommandCode{common.CodeHeartbeat}}
	r, err := New([]IProcessor{heartbeat}, Config{})
	require.NoError(t, err)
	ch := newFakeChannel("10.0.0.7")

	unknown := common.NewRequest(common.CommandCode(9999), 1, []byte("future"))
	r.OnMessage(ch, unknown)

	assert.True(t, unknown.Released(), "unknown datagram is released")
	assert.Empty(t, heartbeat.received, "no processor invoked")
	assert.False(t, ch.closed, "connection stays open")
	assert.Equal(t, uint64(1), r.unknown.Get())

	// later valid datagrams are still dispatched
	r.OnMessage(ch, common.NewRequest(common.CodeHeartbeat, 2, nil))
	assert.Equal(t, []common.CommandCode{common.CodeHeartbeat}, heartbeat.received)
}

func TestOnInactiveNotifiesListeners(t *testing.T) {
	p := &fakeProcessor{codes: []common.CommandCode{common.CodeHeartbeat, common.CodeRespAgentInfo}}
	r, err := New([]IProcessor{p}, Config{})
	require.NoError(t, err)

	r.OnInactive(newFakeChannel("10.0.0.7"))
	assert.Equal(t, 1, p.inactive, "a processor serving many codes is notified once")
}

func TestConcurrentDispatch(t *testing.T) {
	p := &fakeProcessor{codes: []common.CommandCode{common.CodeHeartbeat}}
	r, err := New([]IProcessor{p}, Config{})
	require.NoError(t, err)

	const conns, perConn = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < conns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := newFakeChannel("10.0.0.7")
			r.OnActive(ch)
			for j := 0; j < perConn; j++ {
				r.OnMessage(ch, common.NewRequest(common.CodeHeartbeat, uint64(j), nil))
			}
		}()
	}
	wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Len(t, p.received, conns*perConn)
}
