package prometheus

import (
	"net/http"
	"strings"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
	storeauth "github.com/yanlnery/glowing-docs-portal-sub000"
)

// MetricsSource is implemented by *storeauth.Controller.
type MetricsSource interface {
	MetricsSnapshot() storeauth.MetricsSnapshot
	NotificationsDropped() uint64
}

// PrometheusExporter serves controller metrics from a private registry that
// holds only the storeauth Collector.
type PrometheusExporter struct {
	source   MetricsSource
	registry *promclient.Registry
}

// NewPrometheusExporter returns an exporter reading from source.
func NewPrometheusExporter(source MetricsSource) *PrometheusExporter {
	reg := promclient.NewRegistry()
	reg.MustRegister(NewCollector(source))
	return &PrometheusExporter{source: source, registry: reg}
}

// Registry exposes the underlying registry for callers that gather it
// together with their own.
func (p *PrometheusExporter) Registry() *promclient.Registry {
	return p.registry
}

// Handler serves the registry in the exposition format the scraper asks for.
func (p *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Render returns the current metrics in text format. Disabled metrics render
// as "".
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}
	snapshot := p.source.MetricsSnapshot()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && p.source.NotificationsDropped() == 0 {
		return ""
	}

	families, err := p.registry.Gather()
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&b, mf); err != nil {
			return ""
		}
	}
	return b.String()
}
