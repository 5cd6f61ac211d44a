package router

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dProxy/rpc/common"
	"github.com/ValentinKolb/dProxy/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("router")

// ErrDuplicateCode is returned by New when two processors claim the same command code.
var ErrDuplicateCode = errors.New("command code claimed by more than one processor")

// Config holds the optional collaborators of a Router.
type Config struct {
	// IDs generates the ids of outgoing requests. Defaults to NewIDGenerator().
	IDs IDGenerator
	// Enrichers run in order on every config fetch request. The agent ip is always set.
	Enrichers []Enricher
}

// Router dispatches inbound datagrams to processors by command code. The
// routing table is built once and never changes, so one Router can serve every
// connection concurrently. It implements transport.Handler.
type Router struct {
	processors map[common.CommandCode]IProcessor
	listeners  []IChannelListener
	ids        IDGenerator
	enrichers  []Enricher

	metrics    *metrics.Set
	dispatched map[common.CommandCode]*metrics.Counter
	unknown    *metrics.Counter
}

var _ transport.Handler = (*Router)(nil)

// New builds the routing table from processors.
func New(processors []IProcessor, config Config) (*Router, error) {
	if config.IDs == nil {
		config.IDs = NewIDGenerator()
	}

	set := metrics.NewSet()
	r := &Router{
		processors: make(map[common.CommandCode]IProcessor),
		ids:        config.IDs,
		enrichers:  config.Enrichers,
		metrics:    set,
		dispatched: make(map[common.CommandCode]*metrics.Counter),
		unknown:    set.NewCounter("dproxy_router_unknown_code_total"),
	}

	for _, p := range processors {
		for _, code := range p.Codes() {
			if existing, ok := r.processors[code]; ok {
				return nil, fmt.Errorf("%w: code %s by %T and %T", ErrDuplicateCode, code, existing, p)
			}
			r.processors[code] = p
			r.dispatched[code] = set.NewCounter(fmt.Sprintf(`dproxy_router_dispatched_total{code="%d"}`, int32(code)))
		}
		if l, ok := p.(IChannelListener); ok {
			r.listeners = append(r.listeners, l)
		}
	}

	Logger.Infof("router created with %d command codes", len(r.processors))
	return r, nil
}

// Metrics returns the metrics set of the router.
func (r *Router) Metrics() *metrics.Set {
	return r.metrics
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.Handler)
// --------------------------------------------------------------------------

// OnActive asks the new agent for its pid related configuration.
func (r *Router) OnActive(ch transport.Channel) {
	dg := common.NewRequest(common.CodePidConfigInfoFetch, r.ids.NextID(), nil)
	dg.SetProperty(common.PropAgentIP, ch.RemoteIP())
	for _, enrich := range r.enrichers {
		enrich(dg, ch)
	}

	if err := ch.Write(dg); err != nil {
		Logger.Warningf("sending config fetch to %s failed: %v", ch.RemoteIP(), err)
	}
}

// OnMessage hands dg to the processor of its command code. Datagrams with an
// unknown code are released and dropped, the connection stays open.
func (r *Router) OnMessage(ch transport.Channel, dg *common.Datagram) {
	code := dg.Header.Code
	p, ok := r.processors[code]
	if !ok {
		dg.Release()
		r.unknown.Inc()
		Logger.Warningf("can not process message code [%d], %s", int32(code), ch.RemoteIP())
		return
	}

	r.dispatched[code].Inc()
	p.Process(ch, dg)
}

// OnInactive tells channel listeners that ch is gone.
func (r *Router) OnInactive(ch transport.Channel) {
	for _, l := range r.listeners {
		l.ChannelInactive(ch)
	}
}
