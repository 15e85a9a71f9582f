package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "frames_captured_total",
		Help:      "Total number of frames read from camera sources",
	}, []string{"camera"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected",
	}, []string{"camera"})

	FacesRecognized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "faces_recognized_total",
		Help:      "Total number of faces matched to an enrolled identity",
	}, []string{"camera"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facegate",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	ActiveCameras = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegate",
		Name:      "active_cameras",
		Help:      "Number of currently running capture loops",
	})

	AttendanceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "attendance_events_total",
		Help:      "Attendance transitions by kind",
	}, []string{"kind"})

	ExitAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "exit_alerts_total",
		Help:      "Unknown faces seen by exit cameras",
	})

	OrphanExits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "orphan_exits_total",
		Help:      "Known faces leaving without an open record",
	})

	LedgerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "ledger_errors_total",
		Help:      "Failed attendance datastore operations",
	}, []string{"op"})

	GalleryEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegate",
		Name:      "gallery_entries",
		Help:      "Number of embeddings in the active gallery",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facegate",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegate",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
