package transport

import (
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// Channel is one established agent connection. All per-connection state lives
// in the channel, so handlers can be shared by every connection.
type Channel interface {
	// ID returns the unique id of the connection
	ID() uuid.UUID
	// RemoteIP returns the ip of the peer without the port
	RemoteIP() string
	// Write sends a datagram. Writes from different goroutines are serialized.
	Write(dg *common.Datagram) error
	// Close closes the connection. Closing twice is not an error.
	Close() error
}

// Handler receives the lifecycle events and datagrams of every connection.
// Datagrams of one connection are delivered sequentially in arrival order.
// The handler owns every datagram passed to OnMessage and must release it.
type Handler interface {
	OnActive(ch Channel)
	OnMessage(ch Channel, dg *common.Datagram)
	OnInactive(ch Channel)
}
