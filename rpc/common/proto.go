package common

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Datagram Structure
// --------------------------------------------------------------------------

const (
	// MagicCode starts every frame header.
	MagicCode int32 = 0xbcbc
	// ProtocolVersion is the header version written by this proxy.
	ProtocolVersion int16 = 1
)

// Well known header properties.
const (
	PropAgentIP      = "agentIp"
	PropAppCode      = "appCode"
	PropPidFromProxy = "pidFromProxy"
)

// Flag distinguishes requests from responses.
type Flag int8

const (
	FlagRequest  Flag = 0
	FlagResponse Flag = 1
)

// Header is the fixed part of every datagram.
type Header struct {
	MagicCode  int32
	Version    int16
	ID         uint64
	Flag       Flag
	Code       CommandCode
	Properties map[string]string
}

// Datagram is a single protocol message. Inbound datagrams may hold a pooled
// buffer that must be returned with Release.
type Datagram struct {
	Header Header
	Body   []byte

	buf      *[]byte
	released atomic.Bool
}

// Release returns the buffer backing Body to the pool. It is safe to call
// Release more than once and on datagrams without a pooled buffer.
func (d *Datagram) Release() {
	if d == nil || !d.released.CompareAndSwap(false, true) {
		return
	}
	if d.buf != nil {
		PutBuffer(d.buf)
		d.buf = nil
	}
	d.Body = nil
}

// Released reports whether Release was called.
func (d *Datagram) Released() bool {
	return d.released.Load()
}

// AttachBuffer makes buf the pooled storage released together with d.
func (d *Datagram) AttachBuffer(buf *[]byte) {
	d.buf = buf
}

// Property returns a header property.
func (d *Datagram) Property(key string) (string, bool) {
	v, ok := d.Header.Properties[key]
	return v, ok
}

// SetProperty sets a header property, allocating the map if needed.
func (d *Datagram) SetProperty(key, value string) {
	if d.Header.Properties == nil {
		d.Header.Properties = make(map[string]string)
	}
	d.Header.Properties[key] = value
}

func (d *Datagram) String() string {
	return fmt.Sprintf("datagram{id=%d code=%s flag=%d body=%dB}", d.Header.ID, d.Header.Code, d.Header.Flag, len(d.Body))
}

// --------------------------------------------------------------------------
// Datagram Factory Functions
// --------------------------------------------------------------------------

// NewRequest creates a request datagram.
func NewRequest(code CommandCode, id uint64, body []byte) *Datagram {
	return &Datagram{
		Header: Header{MagicCode: MagicCode, Version: ProtocolVersion, ID: id, Flag: FlagRequest, Code: code},
		Body:   body,
	}
}

// NewResponse creates a response datagram answering the request with the given id.
func NewResponse(code CommandCode, id uint64, body []byte) *Datagram {
	return &Datagram{
		Header: Header{MagicCode: MagicCode, Version: ProtocolVersion, ID: id, Flag: FlagResponse, Code: code},
		Body:   body,
	}
}

// --------------------------------------------------------------------------
// Buffer Pool
// --------------------------------------------------------------------------

// defaultBufferSize matches typical agent messages, larger frames allocate.
const defaultBufferSize = 4 * 1024

var bufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, defaultBufferSize)
		return &b
	},
}

// outstanding counts buffers handed out and not yet returned.
var outstanding atomic.Int64

// GetBuffer returns a pooled buffer of at least size bytes.
func GetBuffer(size int) *[]byte {
	outstanding.Add(1)
	bufPtr := bufferPool.Get().(*[]byte)
	if cap(*bufPtr) < size {
		b := make([]byte, size)
		bufPtr = &b
	}
	*bufPtr = (*bufPtr)[:size]
	return bufPtr
}

// PutBuffer returns a buffer obtained from GetBuffer.
func PutBuffer(bufPtr *[]byte) {
	outstanding.Add(-1)
	bufferPool.Put(bufPtr)
}

// OutstandingBuffers returns the number of pooled buffers not yet released.
func OutstandingBuffers() int64 {
	return outstanding.Load()
}

// --------------------------------------------------------------------------
// Command Codes
// --------------------------------------------------------------------------

// CommandCode identifies the kind of a datagram.
type CommandCode int32

const (
	CodeHeartbeat          CommandCode = -1    // agent heartbeat request
	CodeRespHeartbeat      CommandCode = -2    // heartbeat response
	CodePidConfigInfoFetch CommandCode = 10    // ask the agent for pid related config
	CodeRespAgentInfo      CommandCode = -100  // agent reports its properties
	CodeCancel             CommandCode = -101  // cancel a running command
	CodeRespContent        CommandCode = 1     // command output
	CodeRespSingleEnd      CommandCode = 3     // end of a single command output
	CodeRespException      CommandCode = -1001 // command failed
)

// String returns the string representation of a CommandCode.
func (c CommandCode) String() string {
	switch c {
	case CodeHeartbeat:
		return "heartbeat"
	case CodeRespHeartbeat:
		return "heartbeatResp"
	case CodePidConfigInfoFetch:
		return "pidConfigInfoFetch"
	case CodeRespAgentInfo:
		return "agentInfo"
	case CodeCancel:
		return "cancel"
	case CodeRespContent:
		return "content"
	case CodeRespSingleEnd:
		return "singleEnd"
	case CodeRespException:
		return "exception"
	default:
		return "unknown(" + strconv.Itoa(int(c)) + ")"
	}
}
