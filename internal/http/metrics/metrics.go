// Package metrics expone las métricas Prometheus del broker.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	requestsTotal *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	inflight      prometheus.Gauge
)

// register registra los collectors una sola vez, aunque varios callers
// inicialicen el paquete.
func register() {
	once.Do(func() {
		requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total de requests HTTP procesadas.",
		}, []string{"method", "path", "status"})

		duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duración de requests HTTP.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"})

		inflight = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Requests HTTP en vuelo.",
		})

		prometheus.MustRegister(requestsTotal, duration, inflight)
	})
}

// Handler retorna el handler de /metrics.
func Handler() http.Handler {
	register()
	return promhttp.Handler()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	return sw.ResponseWriter.Write(b)
}

// Instrument mide cada request. El label path usa el route pattern de chi
// para no explotar la cardinalidad con ids.
func Instrument(next http.Handler) http.Handler {
	register()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		inflight.Inc()
		defer inflight.Dec()

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		if sw.status == 0 {
			sw.status = http.StatusOK
		}

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		requestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		duration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
