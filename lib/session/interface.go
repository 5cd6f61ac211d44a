package session

import (
	"context"
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Collaborators
// --------------------------------------------------------------------------

// Session is an established connection to a diagnostics process.
type Session interface {
	// Version asks the remote side for its self-reported protocol version.
	Version() (string, error)
	// Write sends raw bytes to the remote side.
	Write(p []byte) error
	// Close releases the connection. Closing twice is not an error.
	Close() error
}

// Connector opens sessions to a local port.
type Connector interface {
	// Dial connects to the diagnostics process listening on port.
	// Implementations must bound the connect time.
	Dial(ctx context.Context, port int) (Session, error)
}

// Starter asks a diagnostics process to be started for a target process.
type Starter interface {
	Start(ctx context.Context, key Key, port int) error
}

// PidResolver resolves the pid of an application.
type PidResolver interface {
	Resolve(appCode string) (int, error)
}

// PortResolver returns and resets the negotiated port of an application.
type PortResolver interface {
	Port(appCode string) (int, error)
	Reset(appCode string) error
}

// Key identifies a diagnostics process. An absent app code is the empty string.
type Key struct {
	AppCode string
	Pid     int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.AppCode, k.Pid)
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// ErrIllegalVersion is returned once every attempt found a diagnostics process
// reporting an unexpected version.
var ErrIllegalVersion = errors.New("illegal diagnostics version can not be resolved")

// InitError is returned when no session could be established, neither by a
// plain connect nor after starting the diagnostics process.
type InitError struct {
	Key Key
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("can not init diagnostics session for %s: %v", e.Key, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }
