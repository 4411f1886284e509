package prom

import (
	"net/http"
	"strconv"
	"time"

	"github.com/floegence/previewdev/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ProxyObserver exports reverse proxy metrics to Prometheus.
type ProxyObserver struct {
	inFlight      prometheus.Gauge
	requestsTotal *prometheus.CounterVec
	latency       prometheus.Histogram
	rewritesTotal *prometheus.CounterVec
}

// NewProxyObserver registers proxy metrics on the registry.
func NewProxyObserver(reg *prometheus.Registry) *ProxyObserver {
	o := &ProxyObserver{
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "previewdev_proxy_in_flight_requests",
			Help: "Requests currently being relayed to the preview host.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "previewdev_proxy_requests_total",
			Help: "Proxied requests by result and status code.",
		}, []string{"result", "code"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "previewdev_proxy_request_duration_seconds",
			Help:    "Time from request receipt to upstream response headers.",
			Buckets: prometheus.DefBuckets,
		}),
		rewritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "previewdev_proxy_rewrites_total",
			Help: "Header and redirect rewrites applied or skipped.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		o.inFlight,
		o.requestsTotal,
		o.latency,
		o.rewritesTotal,
	)
	return o
}

func (o *ProxyObserver) InFlight(delta int) {
	o.inFlight.Add(float64(delta))
}

func (o *ProxyObserver) Request(result observability.RequestResult, status int, d time.Duration) {
	o.requestsTotal.WithLabelValues(string(result), strconv.Itoa(status)).Inc()
	o.latency.Observe(d.Seconds())
}

func (o *ProxyObserver) Rewrite(kind observability.RewriteKind) {
	o.rewritesTotal.WithLabelValues(string(kind)).Inc()
}

// BridgeObserver exports inspector bridge metrics to Prometheus.
type BridgeObserver struct {
	connectTotal *prometheus.CounterVec
	eventsTotal  *prometheus.CounterVec
}

// NewBridgeObserver registers bridge metrics on the registry.
func NewBridgeObserver(reg *prometheus.Registry) *BridgeObserver {
	o := &BridgeObserver{
		connectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "previewdev_inspector_connect_total",
			Help: "Inspector connection attempts by result.",
		}, []string{"result"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "previewdev_inspector_events_total",
			Help: "Inspector messages received by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(o.connectTotal, o.eventsTotal)
	return o
}

func (o *BridgeObserver) Connect(result observability.ConnectResult) {
	o.connectTotal.WithLabelValues(string(result)).Inc()
}

func (o *BridgeObserver) Event(kind observability.EventKind) {
	o.eventsTotal.WithLabelValues(string(kind)).Inc()
}
