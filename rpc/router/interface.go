package router

import (
	"sync/atomic"

	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/ValentinKolb/dProxy/rpc/transport"
)

// IProcessor handles the datagrams of the command codes it declares.
// Process owns the datagram and must release it.
type IProcessor interface {
	// Codes returns the command codes served by the processor
	Codes() []common.CommandCode
	// Process handles a single datagram
	Process(ch transport.Channel, dg *common.Datagram)
}

// IChannelListener is implemented by processors that keep per-channel state and
// need to forget it when a channel goes away.
type IChannelListener interface {
	ChannelInactive(ch transport.Channel)
}

// IDGenerator hands out correlation ids for datagrams sent by the proxy.
type IDGenerator interface {
	NextID() uint64
}

// Enricher adds header properties to the config fetch request sent to a new channel.
type Enricher func(dg *common.Datagram, ch transport.Channel)

// counterIDGenerator is a process local, monotonically increasing IDGenerator.
type counterIDGenerator struct {
	next atomic.Uint64
}

// NewIDGenerator returns a generator whose first id is 1.
func NewIDGenerator() IDGenerator {
	return &counterIDGenerator{}
}

func (g *counterIDGenerator) NextID() uint64 {
	return g.next.Add(1)
}
