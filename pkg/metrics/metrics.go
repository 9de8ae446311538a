package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the process-wide Prometheus instruments. Methods are
// nil-safe so callers can run without metrics in tests.
type Metrics struct {
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	pollsTotal        *prometheus.CounterVec
	pollDuration      prometheus.Histogram
	samplesStored     prometheus.Counter
	filesSkipped      prometheus.Counter
	energyCalcsTotal  *prometheus.CounterVec
	liveGauge         *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "metergrid_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metergrid_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		pollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "metergrid_device_polls_total",
			Help: "Total device status polls by device and result.",
		}, []string{"device", "result"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "metergrid_device_poll_duration_seconds",
			Help:    "Histogram of device status request durations.",
			Buckets: prometheus.DefBuckets,
		}),
		samplesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "metergrid_live_samples_stored_total",
			Help: "Total live samples appended to the in-memory store.",
		}),
		filesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "metergrid_history_files_skipped_total",
			Help: "Total history files skipped because they could not be parsed.",
		}),
		energyCalcsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "metergrid_energy_calculations_total",
			Help: "Total energy calculations by selected method.",
		}, []string{"method"}),
		liveGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "metergrid_live_power_watts",
			Help: "Most recent total active power per device.",
		}, []string{"device"}),
	}

	prometheus.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.pollsTotal,
		m.pollDuration,
		m.samplesStored,
		m.filesSkipped,
		m.energyCalcsTotal,
		m.liveGauge,
	)

	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler records request counts and latencies for one route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) PollResult(device string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !success {
		result = "error"
	}
	m.pollsTotal.WithLabelValues(device, result).Inc()
	m.pollDuration.Observe(duration.Seconds())
}

func (m *Metrics) SampleStored(device string, totalPowerW float64) {
	if m == nil {
		return
	}
	m.samplesStored.Inc()
	m.liveGauge.WithLabelValues(device).Set(totalPowerW)
}

func (m *Metrics) FileSkipped() {
	if m == nil {
		return
	}
	m.filesSkipped.Inc()
}

func (m *Metrics) EnergyCalculated(method string) {
	if m == nil {
		return
	}
	m.energyCalcsTotal.WithLabelValues(method).Inc()
}
