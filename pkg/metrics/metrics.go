// Package metrics exposes Prometheus metrics for graph loads and searches.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the router's metrics on a private registry. All methods
// are safe on a nil *Collector.
type Collector struct {
	registry *prometheus.Registry

	loads         *prometheus.CounterVec
	fetchAttempts *prometheus.CounterVec
	searches      *prometheus.CounterVec
	nodesExplored prometheus.Histogram
	graphNodes    prometheus.Gauge
	graphEdges    prometheus.Gauge
	httpDuration  *prometheus.HistogramVec
}

// NewCollector creates and registers the metrics under namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_loads_total",
			Help:      "Graph loads by result",
		}, []string{"result"}),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Raw map data fetch attempts by result",
		}, []string{"result"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Route searches by outcome",
		}, []string{"outcome"}),
		nodesExplored: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_nodes_explored",
			Help:      "Nodes expanded per search",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		graphNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_nodes",
			Help:      "Nodes in the published graph",
		}),
		graphEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_edges",
			Help:      "Directed edges in the published graph",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	c.registry.MustRegister(
		c.loads, c.fetchAttempts, c.searches, c.nodesExplored,
		c.graphNodes, c.graphEdges, c.httpDuration,
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// GraphLoaded records a load result and, on success, the graph size.
func (c *Collector) GraphLoaded(result string, nodes, edges int) {
	if c == nil {
		return
	}
	c.loads.WithLabelValues(result).Inc()
	if result == "ok" {
		c.graphNodes.Set(float64(nodes))
		c.graphEdges.Set(float64(edges))
	}
}

// FetchAttempt records one fetch attempt.
func (c *Collector) FetchAttempt(result string) {
	if c == nil {
		return
	}
	c.fetchAttempts.WithLabelValues(result).Inc()
}

// SearchFinished records a search outcome and its expansion count.
func (c *Collector) SearchFinished(outcome string, explored int) {
	if c == nil {
		return
	}
	c.searches.WithLabelValues(outcome).Inc()
	c.nodesExplored.Observe(float64(explored))
}

// ObserveHTTP records a request duration.
func (c *Collector) ObserveHTTP(method, route string, d time.Duration) {
	if c == nil {
		return
	}
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
