package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tgwire",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tgwire",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	packets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tgwire",
			Subsystem: "messenger",
			Name:      "packets_total",
			Help:      "Packets moved by plain messengers.",
		},
		[]string{"dc", "direction"},
	)
	packetBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tgwire",
			Subsystem: "messenger",
			Name:      "bytes_total",
			Help:      "Raw packet bytes moved by plain messengers.",
		},
		[]string{"dc", "direction"},
	)
	readErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tgwire",
			Subsystem: "messenger",
			Name:      "read_errors_total",
			Help:      "Failed message reads by cause.",
		},
		[]string{"dc", "cause"},
	)
	responseWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tgwire",
			Subsystem: "messenger",
			Name:      "response_wait_seconds",
			Help:      "Time spent waiting for a response, by outcome.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"dc", "outcome"},
	)
	probeResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tgwire",
			Subsystem: "probe",
			Name:      "results_total",
			Help:      "Handshake probe results per data centre.",
		},
		[]string{"dc", "success"},
	)
	probeLatency = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tgwire",
			Subsystem: "probe",
			Name:      "last_latency_seconds",
			Help:      "Latency of the last successful probe.",
		},
		[]string{"dc"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			packets, packetBytes, readErrors, responseWait,
			probeResults, probeLatency,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// Direction labels for packet metrics.
const (
	DirectionRead  = "read"
	DirectionWrite = "write"
)

// MessengerMetrics records per-connection counters under a fixed dc label.
// The zero value is a no-op.
type MessengerMetrics struct {
	dc      string
	enabled bool
}

func NewMessengerMetrics(dcID int) MessengerMetrics {
	RegisterMetrics()
	return MessengerMetrics{dc: strconv.Itoa(dcID), enabled: true}
}

func (m MessengerMetrics) Packet(direction string, size int) {
	if !m.enabled {
		return
	}
	packets.WithLabelValues(m.dc, direction).Inc()
	packetBytes.WithLabelValues(m.dc, direction).Add(float64(size))
}

func (m MessengerMetrics) ReadError(cause string) {
	if !m.enabled {
		return
	}
	readErrors.WithLabelValues(m.dc, cause).Inc()
}

func (m MessengerMetrics) ResponseWait(outcome string, d time.Duration) {
	if !m.enabled {
		return
	}
	responseWait.WithLabelValues(m.dc, outcome).Observe(d.Seconds())
}

func RecordProbe(dcID int, success bool, latency time.Duration) {
	RegisterMetrics()
	dc := strconv.Itoa(dcID)
	probeResults.WithLabelValues(dc, strconv.FormatBool(success)).Inc()
	if success {
		probeLatency.WithLabelValues(dc).Set(latency.Seconds())
	}
}
