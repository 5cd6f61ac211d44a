package processor

import (
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/ValentinKolb/dProxy/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("processor")

// Heartbeat answers agent heartbeats with a heartbeat response of the same id.
type Heartbeat struct{}

// NewHeartbeat creates a heartbeat processor.
func NewHeartbeat() *Heartbeat {
	return &Heartbeat{}
}

func (h *Heartbeat) Codes() []common.CommandCode {
	return []common.CommandCode{common.CodeHeartbeat}
}

func (h *Heartbeat) Process(ch transport.Channel, dg *common.Datagram) {
	id := dg.Header.ID
	dg.Release()

	if err := ch.Write(common.NewResponse(common.CodeRespHeartbeat, id, nil)); err != nil {
		Logger.Warningf("heartbeat response to %s failed: %v", ch.RemoteIP(), err)
	}
}
