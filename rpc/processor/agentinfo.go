package processor

import (
	"encoding/json"

	"github.com/ValentinKolb/dProxy/lib/meta"
	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/ValentinKolb/dProxy/rpc/transport"
)

// AgentInfo stores the properties agents report about themselves in the meta
// stores and records the agent in the registry.
type AgentInfo struct {
	stores   *meta.Stores
	registry *Registry
}

// NewAgentInfo creates an agent info processor.
func NewAgentInfo(stores *meta.Stores, registry *Registry) *AgentInfo {
	return &AgentInfo{stores: stores, registry: registry}
}

func (p *AgentInfo) Codes() []common.CommandCode {
	return []common.CommandCode{common.CodeRespAgentInfo}
}

// Process expects a JSON object of string properties. The app code is taken
// from the "appCode" property or, if absent, from the header.
func (p *AgentInfo) Process(ch transport.Channel, dg *common.Datagram) {
	defer dg.Release()

	props := make(map[string]string)
	if len(dg.Body) > 0 {
		if err := json.Unmarshal(dg.Body, &props); err != nil {
			Logger.Warningf("dropping malformed agent info from %s: %v", ch.RemoteIP(), err)
			return
		}
	}
	delete(props, "")

	appCode := props[common.PropAppCode]
	if appCode == "" {
		appCode, _ = dg.Property(common.PropAppCode)
	}

	if appCode == "" {
		if err := p.stores.Shared().Update(props); err != nil {
			Logger.Warningf("storing agent info from %s failed: %v", ch.RemoteIP(), err)
		}
		Logger.Infof("agent %s reported %d shared properties", ch.RemoteIP(), len(props))
		return
	}

	app, err := p.stores.App(appCode)
	if err != nil {
		Logger.Warningf("agent info from %s rejected: %v", ch.RemoteIP(), err)
		return
	}
	if err := app.Update(props); err != nil {
		Logger.Warningf("storing agent info of app %s failed: %v", appCode, err)
		return
	}

	p.registry.Register(appCode, ch, props)
	Logger.Infof("agent %s registered for app %s", ch.RemoteIP(), appCode)
}

// ChannelInactive forgets the agents of a closed channel.
func (p *AgentInfo) ChannelInactive(ch transport.Channel) {
	for _, appCode := range p.registry.Unregister(ch) {
		Logger.Infof("agent of app %s disconnected", appCode)
	}
}
