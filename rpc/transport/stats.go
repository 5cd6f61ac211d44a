package transport

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// Stats collects traffic statistics of a transport.
type Stats struct {
	Registry       gometrics.Registry
	FramesIn       gometrics.Meter
	FramesOut      gometrics.Meter
	ActiveChannels gometrics.Counter
	DecodeErrors   gometrics.Counter
}

// NewStats creates stats backed by a fresh registry.
func NewStats() *Stats {
	r := gometrics.NewRegistry()
	return &Stats{
		Registry:       r,
		FramesIn:       gometrics.GetOrRegisterMeter("transport.frames.in", r),
		FramesOut:      gometrics.GetOrRegisterMeter("transport.frames.out", r),
		ActiveChannels: gometrics.GetOrRegisterCounter("transport.channels.active", r),
		DecodeErrors:   gometrics.GetOrRegisterCounter("transport.errors.decode", r),
	}
}

// Report logs a single line per metric.
func (s *Stats) Report() {
	s.Registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case gometrics.Meter:
			Logger.Infof("%s: count=%d 1m=%.2f/s mean=%.2f/s", name, m.Count(), m.Rate1(), m.RateMean())
		case gometrics.Counter:
			Logger.Infof("%s: count=%d", name, m.Count())
		}
	})
}

// ReportEvery calls Report every interval until ctx is done.
func (s *Stats) ReportEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Report()
		}
	}
}

// WritePrometheus writes the counts of all metrics in Prometheus text format.
// Meters become dproxy_<name>_total counters, counters become gauges.
func (s *Stats) WritePrometheus(w io.Writer) {
	lines := make([]string, 0, 4)
	s.Registry.Each(func(name string, i interface{}) {
		metric := "dproxy_" + strings.ReplaceAll(name, ".", "_")
		switch m := i.(type) {
		case gometrics.Meter:
			lines = append(lines, fmt.Sprintf("%s_total %d\n", metric, m.Count()))
		case gometrics.Counter:
			lines = append(lines, fmt.Sprintf("%s %d\n", metric, m.Count()))
		}
	})
	sort.Strings(lines)
	for _, line := range lines {
		_, _ = io.WriteString(w, line)
	}
}
