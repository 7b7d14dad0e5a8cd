package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics: Prometheus метрики flowboard-api.
type Metrics struct {
	// HTTPRequests: обработанные запросы по маршруту и коду ответа.
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration: длительность обработки запросов.
	HTTPDuration *prometheus.HistogramVec

	// Previews: вызовы /api/preview с предупреждениями и без.
	Previews *prometheus.CounterVec

	// ProxyRequests: запросы HTTP прокси по коду ответа внешнего сервиса.
	ProxyRequests *prometheus.CounterVec

	// EventsPublished: события в RabbitMQ по routing key и результату.
	EventsPublished *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg.
// nil означает prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowboard_api_http_requests_total",
			Help: "Total HTTP requests handled by flowboard-api",
		}, []string{"method", "route", "status"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowboard_api_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		Previews: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowboard_api_previews_total",
			Help: "Template previews resolved",
		}, []string{"warnings"}),

		ProxyRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowboard_api_proxy_requests_total",
			Help: "HTTP requests executed on behalf of request nodes",
		}, []string{"status"}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowboard_events_published_total",
			Help: "Events published to RabbitMQ",
		}, []string{"routing_key", "result"}),
	}
}
