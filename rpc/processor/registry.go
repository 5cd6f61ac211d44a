package processor

import (
	"sort"
	"time"

	"github.com/ValentinKolb/dProxy/rpc/transport"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// Agent is a connected agent reporting for an application.
type Agent struct {
	AppCode     string            `yaml:"appCode"`
	IP          string            `yaml:"ip"`
	ChannelID   uuid.UUID         `yaml:"channelId"`
	ConnectedAt time.Time         `yaml:"connectedAt"`
	Properties  map[string]string `yaml:"properties,omitempty"`
	channel     transport.Channel
}

// Channel returns the connection of the agent.
func (a *Agent) Channel() transport.Channel {
	return a.channel
}

// Registry maps application codes to the channel of their agent.
type Registry struct {
	agents *xsync.MapOf[string, *Agent]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: xsync.NewMapOf[string, *Agent]()}
}

// Register records ch as the agent of appCode, replacing an earlier registration.
func (r *Registry) Register(appCode string, ch transport.Channel, props map[string]string) *Agent {
	agent := &Agent{
		AppCode:     appCode,
		IP:          ch.RemoteIP(),
		ChannelID:   ch.ID(),
		ConnectedAt: time.Now(),
		Properties:  props,
		channel:     ch,
	}
	r.agents.Store(appCode, agent)
	return agent
}

// Lookup returns the agent of appCode.
func (r *Registry) Lookup(appCode string) (*Agent, bool) {
	return r.agents.Load(appCode)
}

// Unregister removes every registration of ch and returns the affected app codes.
func (r *Registry) Unregister(ch transport.Channel) []string {
	var removed []string
	r.agents.Range(func(appCode string, a *Agent) bool {
		if a.ChannelID == ch.ID() {
			// only delete if the app was not re-registered on another channel meanwhile
			r.agents.Compute(appCode, func(cur *Agent, loaded bool) (*Agent, bool) {
				if loaded && cur.ChannelID == ch.ID() {
					removed = append(removed, appCode)
					return cur, true
				}
				return cur, !loaded
			})
		}
		return true
	})
	sort.Strings(removed)
	return removed
}

// Agents returns all registered agents sorted by app code.
func (r *Registry) Agents() []*Agent {
	agents := make([]*Agent, 0, r.agents.Size())
	r.agents.Range(func(_ string, a *Agent) bool {
		agents = append(agents, a)
		return true
	})
	sort.Slice(agents, func(i, j int) bool { return agents[i].AppCode < agents[j].AppCode })
	return agents
}
