package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Snapshot carries the relay statistics the gauges are refreshed from
// on every scrape.
type Snapshot struct {
	Streams        int
	RunningStreams int
	Clients        int
	BytesRelayed   uint64
}

// Metrics owns the prometheus registry for the server.
type Metrics struct {
	registry *prometheus.Registry

	streams        prometheus.Gauge
	runningStreams prometheus.Gauge
	clients        prometheus.Gauge
	bytesRelayed   prometheus.Gauge
}

// New creates the registry and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtsp2web_streams",
			Help: "Number of registered streams.",
		}),
		runningStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtsp2web_streams_running",
			Help: "Number of streams with both transports running.",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtsp2web_broadcast_clients",
			Help: "Connected broadcast websocket clients.",
		}),
		bytesRelayed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtsp2web_broadcast_bytes_relayed_total",
			Help: "Total bytes relayed to broadcast clients.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.streams,
		m.runningStreams,
		m.clients,
		m.bytesRelayed,
	)
	return m
}

// Handler serves the registry over HTTP. snapshot is called on every
// scrape to refresh the gauges before rendering.
func (m *Metrics) Handler(snapshot func() Snapshot) http.Handler {
	promHandler := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := snapshot()
		m.streams.Set(float64(s.Streams))
		m.runningStreams.Set(float64(s.RunningStreams))
		m.clients.Set(float64(s.Clients))
		m.bytesRelayed.Set(float64(s.BytesRelayed))
		promHandler.ServeHTTP(w, r)
	})
}
