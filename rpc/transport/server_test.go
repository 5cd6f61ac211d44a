package transport

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dProxy/rpc/codec"
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Handler that greets every channel and echoes requests.
type recorder struct {
	mu       sync.Mutex
	active   []Channel
	codes    []common.CommandCode
	inactive chan Channel
}

func newRecorder() *recorder {
	return &recorder{inactive: make(chan Channel, 4)}
}

func (r *recorder) OnActive(ch Channel) {
	r.mu.Lock()
	r.active = append(r.active, ch)
	r.mu.Unlock()
	_ = ch.Write(common.NewRequest(common.CodePidConfigInfoFetch, 1, nil))
}

func (r *recorder) OnMessage(ch Channel, dg *common.Datagram) {
	defer dg.Release()
	r.mu.Lock()
	r.codes = append(r.codes, dg.Header.Code)
	r.mu.Unlock()
	_ = ch.Write(common.NewResponse(common.CodeRespHeartbeat, dg.Header.ID, nil))
}

func (r *recorder) OnInactive(ch Channel) {
	r.inactive <- ch
}

func startServer(t *testing.T, h Handler) *Server {
	t.Helper()
	srv := NewServer(common.ServerConfig{Endpoint: "127.0.0.1:0", TimeoutSecond: 5}, h, nil)
	require.NoError(t, srv.Listen())
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { srv.Close() })
	return srv
}

func dial(t *testing.T, srv *Server) *Client {
	t.Helper()
	c, err := Dial(context.Background(), common.ClientConfig{Endpoint: srv.Addr().String(), TimeoutSecond: 5})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestServerLifecycle(t *testing.T) {
	rec := newRecorder()
	srv := startServer(t, rec)
	c := dial(t, srv)

	greeting, err := c.Receive()
	require.NoError(t, err)
	assert.Equal(t, common.CodePidConfigInfoFetch, greeting.Header.Code)
	greeting.Release()

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, c.Send(common.NewRequest(common.CodeHeartbeat, i, nil)))
		resp, err := c.Receive()
		require.NoError(t, err)
		assert.Equal(t, i, resp.Header.ID)
		assert.Equal(t, common.FlagResponse, resp.Header.Flag)
		resp.Release()
	}

	rec.mu.Lock()
	require.Len(t, rec.active, 1)
	assert.Equal(t, "127.0.0.1", rec.active[0].RemoteIP())
	assert.Equal(t, []common.CommandCode{common.CodeHeartbeat, common.CodeHeartbeat, common.CodeHeartbeat}, rec.codes)
	rec.mu.Unlock()

	assert.Equal(t, int64(3), srv.Stats().FramesIn.Count())
	assert.Equal(t, int64(1), srv.Stats().ActiveChannels.Count())

	require.NoError(t, c.Close())
	select {
	case ch := <-rec.inactive:
		assert.Equal(t, rec.active[0].ID(), ch.ID())
	case <-time.After(2 * time.Second):
		t.Fatal("OnInactive not called")
	}
}

func TestServerClosesOnBadMagic(t *testing.T) {
	rec := newRecorder()
	srv := startServer(t, rec)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	greeting, err := codec.ReadFrame(conn, 0)
	require.NoError(t, err)
	greeting.Release()

	bad := common.NewRequest(common.CodeHeartbeat, 1, nil)
	bad.Header.MagicCode = 0x0bad
	require.NoError(t, codec.WriteFrame(conn, bad))

	select {
	case <-rec.inactive:
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed after bad magic")
	}
	assert.Equal(t, int64(1), srv.Stats().DecodeErrors.Count())
}

func TestServerClose(t *testing.T) {
	rec := newRecorder()
	srv := startServer(t, rec)
	c := dial(t, srv)

	greeting, err := c.Receive()
	require.NoError(t, err)
	greeting.Release()

	require.NoError(t, srv.Close())

	select {
	case <-rec.inactive:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not close the channel")
	}
	assert.NoError(t, srv.Close(), "closing twice is not an error")
}

func TestStatsWritePrometheus(t *testing.T) {
	stats := NewStats()
	stats.FramesIn.Mark(3)
	stats.ActiveChannels.Inc(2)

	var sb strings.Builder
	stats.WritePrometheus(&sb)

	out := sb.String()
	assert.Contains(t, out, "dproxy_transport_frames_in_total 3\n")
	assert.Contains(t, out, "dproxy_transport_frames_out_total 0\n")
	assert.Contains(t, out, "dproxy_transport_channels_active 2\n")
	assert.Contains(t, out, "dproxy_transport_errors_decode 0\n")
}

func TestServerRejectsAfterClose(t *testing.T) {
	srv := NewServer(common.ServerConfig{Endpoint: "127.0.0.1:0"}, newRecorder(), nil)
	require.NoError(t, srv.Listen())
	require.NoError(t, srv.Close())

	t.Run("AcceptedConnIsClosed", func(t *testing.T) {
		local, remote := net.Pipe()
		defer remote.Close()

		ch, ok := srv.register(local)
		assert.False(t, ok)
		assert.Nil(t, ch)
		assert.Equal(t, 0, srv.channels.Size())

		_, err := remote.Write([]byte{0})
		assert.Error(t, err, "conn accepted after Close must be closed")
	})

	t.Run("NoUntrackedGoroutine", func(t *testing.T) {
		done := make(chan struct{})
		go func() {
			srv.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("wait group not released")
		}
	})
}

func TestServerCloseWithoutTimeout(t *testing.T) {
	rec := newRecorder()
	srv := NewServer(common.ServerConfig{Endpoint: "127.0.0.1:0"}, rec, nil)
	require.NoError(t, srv.Listen())
	go func() { _ = srv.Serve() }()

	c := dial(t, srv)
	greeting, err := c.Receive()
	require.NoError(t, err)
	greeting.Release()

	done := make(chan error, 1)
	go func() { done <- srv.Close() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on an idle channel")
	}
}
