package serve

import (
	"net/http"
	"time"

	cmdUtil "github.com/ValentinKolb/dProxy/cmd/util"
	"github.com/ValentinKolb/dProxy/rpc/processor"
	"github.com/ValentinKolb/dProxy/rpc/router"
	"github.com/ValentinKolb/dProxy/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"gopkg.in/yaml.v3"
)

var metricsLog = logger.GetLogger("metrics")

// endpoints serves the introspection endpoints of a running proxy
type endpoints struct {
	components *cmdUtil.Components
	registry   *processor.Registry
	router     *router.Router
	transport  *transport.Stats
}

// metaDump is the yaml document served on /meta
type metaDump struct {
	Shared map[string]string            `yaml:"shared"`
	Apps   map[string]map[string]string `yaml:"apps,omitempty"`
}

func newMetricsServer(addr string, e *endpoints) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", e.metrics)
	mux.HandleFunc("/agents", e.agents)
	mux.HandleFunc("/meta", e.meta)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (e *endpoints) metrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	e.components.Sessions.Metrics().WritePrometheus(w)
	e.router.Metrics().WritePrometheus(w)
	e.transport.WritePrometheus(w)
	metrics.WritePrometheus(w, true)
}

func (e *endpoints) agents(w http.ResponseWriter, _ *http.Request) {
	writeYAML(w, e.registry.Agents())
}

func (e *endpoints) meta(w http.ResponseWriter, _ *http.Request) {
	dump := metaDump{
		Shared: e.components.Stores.Shared().AgentInfo(),
		Apps:   make(map[string]map[string]string),
	}
	for _, appCode := range e.components.Stores.Apps() {
		app, err := e.components.Stores.App(appCode)
		if err != nil {
			continue
		}
		dump.Apps[appCode] = app.AgentInfo()
	}
	writeYAML(w, dump)
}

func writeYAML(w http.ResponseWriter, v any) {
	out, err := yaml.Marshal(v)
	if err != nil {
		metricsLog.Errorf("encoding yaml failed: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(out)
}
