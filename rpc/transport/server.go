package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dProxy/rpc/codec"
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport")

// -----------------------------------------------------------
// Channel
// -----------------------------------------------------------

// channel implements Channel on top of a net.Conn
type channel struct {
	id           uuid.UUID
	conn         net.Conn
	remoteIP     string
	writeTimeout time.Duration
	stats        *Stats

	writeMu sync.Mutex
	closed  atomic.Bool
}

func newChannel(conn net.Conn, writeTimeout time.Duration, stats *Stats) *channel {
	ip := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return &channel{
		id:           uuid.New(),
		conn:         conn,
		remoteIP:     ip,
		writeTimeout: writeTimeout,
		stats:        stats,
	}
}

func (c *channel) ID() uuid.UUID { return c.id }

func (c *channel) RemoteIP() string { return c.remoteIP }

func (c *channel) Write(dg *common.Datagram) error {
	if c.closed.Load() {
		return net.ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	if err := codec.WriteFrame(c.conn, dg); err != nil {
		return err
	}
	if c.stats != nil {
		c.stats.FramesOut.Mark(1)
	}
	return nil
}

func (c *channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

func (c *channel) String() string {
	return fmt.Sprintf("channel{%s %s}", c.id, c.conn.RemoteAddr())
}

// -----------------------------------------------------------
// Server
// -----------------------------------------------------------

// Server accepts agent connections and feeds them to a Handler,
// one goroutine per connection.
type Server struct {
	config   common.ServerConfig
	handler  Handler
	stats    *Stats
	listener net.Listener

	// mu orders channel registration against Close
	mu       sync.Mutex
	channels *xsync.MapOf[uuid.UUID, *channel]
	wg       sync.WaitGroup
	closing  atomic.Bool
}

// NewServer creates a server. stats may be nil.
func NewServer(config common.ServerConfig, handler Handler, stats *Stats) *Server {
	if stats == nil {
		stats = NewStats()
	}
	return &Server{
		config:   config,
		handler:  handler,
		stats:    stats,
		channels: xsync.NewMapOf[uuid.UUID, *channel](),
	}
}

// Listen binds the configured endpoint.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address. Only valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stats returns the traffic statistics of the server.
func (s *Server) Stats() *Stats {
	return s.stats
}

// Serve accepts connections until Close is called. It returns nil after Close.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	Logger.Infof("Starting agent server on %s", s.listener.Addr())

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		ch, ok := s.register(conn)
		if !ok {
			return nil
		}
		go s.handleConnection(ch)
	}
}

// Close stops accepting, closes every channel and waits for their goroutines.
func (s *Server) Close() error {
	s.mu.Lock()
	if !s.closing.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.channels.Range(func(_ uuid.UUID, ch *channel) bool {
		_ = ch.Close()
		return true
	})
	s.wg.Wait()
	return err
}

// -----------------------------------------------------------
// Helper Methods
// -----------------------------------------------------------

// register tracks conn as a channel. Connections accepted after Close are
// closed right away and ok is false.
func (s *Server) register(conn net.Conn) (*channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing.Load() {
		_ = conn.Close()
		return nil, false
	}

	timeout := time.Duration(s.config.TimeoutSecond) * time.Second
	ch := newChannel(conn, timeout, s.stats)
	s.wg.Add(1)
	s.channels.Store(ch.id, ch)
	return ch, true
}

// handleConnection reads frames of one connection sequentially
func (s *Server) handleConnection(ch *channel) {
	defer s.wg.Done()

	conn := ch.conn
	timeout := ch.writeTimeout
	s.stats.ActiveChannels.Inc(1)
	Logger.Infof("Agent connected: %s", ch)

	defer func() {
		_ = ch.Close()
		s.channels.Delete(ch.id)
		s.stats.ActiveChannels.Dec(1)
		s.handler.OnInactive(ch)
		Logger.Infof("Agent disconnected: %s", ch)
	}()

	s.handler.OnActive(ch)

	for {
		// idle agents must heartbeat within the timeout
		if timeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				Logger.Errorf("Failed to set read deadline: %v", err)
				return
			}
		}

		dg, err := codec.ReadFrame(conn, s.config.MaxFrameSize)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), ch.closed.Load():
				Logger.Debugf("Connection closed: %s", ch)
			case errors.Is(err, codec.ErrBadMagic), errors.Is(err, codec.ErrMalformed), errors.Is(err, codec.ErrFrameTooLarge):
				s.stats.DecodeErrors.Inc(1)
				Logger.Warningf("Closing %s after decode error: %v", ch, err)
			default:
				Logger.Errorf("Error reading from %s: %v", ch, err)
			}
			return
		}

		s.stats.FramesIn.Mark(1)
		s.handler.OnMessage(ch, dg)
	}
}
