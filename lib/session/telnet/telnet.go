// Package telnet connects to diagnostics processes over their line based
// telnet control port.
package telnet

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dProxy/lib/session"
)

const (
	// DefaultHost is the loopback address diagnostics processes listen on.
	DefaultHost = "127.0.0.1"
	// DefaultConnectTimeout bounds the TCP connect.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultReadTimeout bounds waiting for a prompt.
	DefaultReadTimeout = 5 * time.Second
	// DefaultPrompt terminates every response of the diagnostics shell.
	DefaultPrompt = "$ "
	// VersionCommand asks the shell for its version.
	VersionCommand = "version"
)

const (
	iac  = 0xff
	sb   = 0xfa
	se   = 0xf0
	will = 0xfb
	dont = 0xfe
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// ErrClosed is returned when using a closed session.
var ErrClosed = errors.New("telnet session closed")

// Connector dials telnet sessions.
type Connector struct {
	Host           string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Prompt         string
}

// NewConnector returns a connector with defaults for every zero field.
func NewConnector(connectTimeout time.Duration) *Connector {
	return &Connector{ConnectTimeout: connectTimeout}
}

func (c *Connector) host() string {
	if c.Host == "" {
		return DefaultHost
	}
	return c.Host
}

func (c *Connector) connectTimeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return c.ConnectTimeout
}

func (c *Connector) readTimeout() time.Duration {
	if c.ReadTimeout <= 0 {
		return DefaultReadTimeout
	}
	return c.ReadTimeout
}

func (c *Connector) prompt() string {
	if c.Prompt == "" {
		return DefaultPrompt
	}
	return c.Prompt
}

// Dial connects to port and waits for the first prompt.
func (c *Connector) Dial(ctx context.Context, port int) (session.Session, error) {
	d := net.Dialer{Timeout: c.connectTimeout()}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(c.host(), strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	s := &Session{
		conn:        conn,
		reader:      bufio.NewReader(conn),
		prompt:      []byte(c.prompt()),
		readTimeout: c.readTimeout(),
	}
	if _, err := s.readUntilPrompt(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("waiting for banner: %w", err)
	}
	return s, nil
}

// Session is a connected telnet session. Calls are serialized.
type Session struct {
	mu          sync.Mutex
	conn        net.Conn
	reader      *bufio.Reader
	prompt      []byte
	readTimeout time.Duration
	closed      bool
}

// Version sends the version command and returns the reported version.
func (s *Session) Version() (string, error) {
	out, err := s.Exec(VersionCommand)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && line != VersionCommand {
			return line, nil
		}
	}
	return "", errors.New("empty version response")
}

// Exec sends a command line and returns the output up to the next prompt,
// without the prompt itself.
func (s *Session) Exec(command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}
	if err := s.writeLocked([]byte(command + "\n")); err != nil {
		return "", err
	}
	return s.readUntilPrompt()
}

// Write sends raw bytes.
func (s *Session) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return s.writeLocked(p)
}

// Close closes the connection.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

func (s *Session) writeLocked(p []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return err
	}
	_, err := s.conn.Write(p)
	return err
}

// readUntilPrompt reads until the buffered output ends with the prompt.
// Telnet negotiation sequences and ANSI colors are dropped.
func (s *Session) readUntilPrompt() (string, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			return "", err
		}

		if b == iac {
			if err := s.skipNegotiation(); err != nil {
				return "", err
			}
			continue
		}
		if b == '\r' {
			continue
		}

		buf.WriteByte(b)
		if bytes.HasSuffix(buf.Bytes(), s.prompt) {
			out := buf.Bytes()[:buf.Len()-len(s.prompt)]
			return ansiEscape.ReplaceAllString(string(out), ""), nil
		}
	}
}

// skipNegotiation consumes the rest of a telnet command after IAC.
func (s *Session) skipNegotiation() error {
	cmd, err := s.reader.ReadByte()
	if err != nil {
		return err
	}
	switch {
	case cmd == sb:
		// subnegotiation runs until IAC SE
		prev := byte(0)
		for {
			b, err := s.reader.ReadByte()
			if err != nil {
				return err
			}
			if prev == iac && b == se {
				return nil
			}
			prev = b
		}
	case cmd >= will && cmd <= dont:
		_, err := s.reader.ReadByte()
		return err
	default:
		return nil
	}
}
