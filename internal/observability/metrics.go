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
			Namespace: "codecctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "codecctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codecctl",
			Name:      "frames_total",
			Help:      "Complete frames extracted from codec streams.",
		},
		[]string{"codec", "vendor"},
	)
	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codecctl",
			Name:      "frame_errors_total",
			Help:      "Frames rejected by the vendor parser.",
		},
		[]string{"codec", "vendor"},
	)
	unrouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codecctl",
			Subsystem: "dispatch",
			Name:      "unrouted_total",
			Help:      "Parsed messages with no matching handler.",
		},
		[]string{"codec"},
	)
	replyTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codecctl",
			Name:      "reply_timeouts_total",
			Help:      "Synchronous requests that received no reply in time.",
		},
		[]string{"codec"},
	)
	directoryEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "codecctl",
			Name:      "directory_entries",
			Help:      "Folders and contacts currently held per codec directory.",
		},
		[]string{"codec", "kind"},
	)
	fanoutDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codecctl",
			Subsystem: "fanout",
			Name:      "dropped_total",
			Help:      "Change events dropped because the fan-out queue was full.",
		},
		[]string{"codec"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			framesTotal,
			frameErrors,
			unrouted,
			replyTimeouts,
			directoryEntries,
			fanoutDropped,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrame(codec, vendor string) {
	RegisterMetrics()
	framesTotal.WithLabelValues(codec, vendor).Inc()
}

func RecordFrameError(codec, vendor string) {
	RegisterMetrics()
	frameErrors.WithLabelValues(codec, vendor).Inc()
}

func RecordUnrouted(codec string) {
	RegisterMetrics()
	unrouted.WithLabelValues(codec).Inc()
}

func RecordReplyTimeout(codec string) {
	RegisterMetrics()
	replyTimeouts.WithLabelValues(codec).Inc()
}

func SetDirectoryEntries(codec string, folders, contacts int) {
	RegisterMetrics()
	directoryEntries.WithLabelValues(codec, "folder").Set(float64(folders))
	directoryEntries.WithLabelValues(codec, "contact").Set(float64(contacts))
}

func RecordFanoutDrop(codec string) {
	RegisterMetrics()
	fanoutDropped.WithLabelValues(codec).Inc()
}
