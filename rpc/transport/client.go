package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/dProxy/rpc/codec"
	"github.com/ValentinKolb/dProxy/rpc/common"
)

// Client is the agent side of a connection. It is used by tests and the agent
// debug command.
type Client struct {
	config  common.ClientConfig
	conn    net.Conn
	writeMu sync.Mutex
	readMu  sync.Mutex
}

// Dial connects to the proxy endpoint of config.
func Dial(ctx context.Context, config common.ClientConfig) (*Client, error) {
	d := net.Dialer{Timeout: time.Duration(config.TimeoutSecond) * time.Second}
	conn, err := d.DialContext(ctx, "tcp", config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Endpoint, err)
	}
	return &Client{config: config, conn: conn}, nil
}

func (c *Client) timeout() time.Duration {
	return time.Duration(c.config.TimeoutSecond) * time.Second
}

// Send writes a datagram.
func (c *Client) Send(dg *common.Datagram) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if t := c.timeout(); t > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(t)); err != nil {
			return err
		}
	}
	return codec.WriteFrame(c.conn, dg)
}

// Receive reads the next datagram. The caller must release it.
func (c *Client) Receive() (*common.Datagram, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if t := c.timeout(); t > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(t)); err != nil {
			return nil, err
		}
	}
	return codec.ReadFrame(c.conn, c.config.MaxFrameSize)
}

// LocalIP returns the local ip of the connection.
func (c *Client) LocalIP() string {
	host, _, err := net.SplitHostPort(c.conn.LocalAddr().String())
	if err != nil {
		return c.conn.LocalAddr().String()
	}
	return host
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
