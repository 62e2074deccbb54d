package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	InstancesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mdserver_instances_total",
			Help: "Total number of instances in the registry",
		},
	)

	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdserver_uploads_total",
			Help: "Total number of instance uploads by result",
		},
		[]string{"result"},
	)

	AllocationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mdserver_allocations_total",
			Help: "Total number of new IPv4 address allocations",
		},
	)

	// Publish pipeline metrics
	RendersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mdserver_renders_total",
			Help: "Total number of host-file render cycles",
		},
	)

	ReloadSignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdserver_reload_signals_total",
			Help: "Total number of resolver reload attempts by result",
		},
		[]string{"result"},
	)

	// HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdserver_http_requests_total",
			Help: "Total number of HTTP requests by method and status",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mdserver_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(UploadsTotal)
	prometheus.MustRegister(AllocationsTotal)
	prometheus.MustRegister(RendersTotal)
	prometheus.MustRegister(ReloadSignalsTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
