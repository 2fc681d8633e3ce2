// Package metrics exposes prometheus instrumentation for the sync engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "canvasync"

var (
	// opsAppended counts operations accepted by the op log.
	// Labels: type (create, update, delete, move, snapshot)
	opsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "oplog",
		Name:      "appended_total",
		Help:      "Operations accepted by the op log",
	}, []string{"type"})

	// opsRejected counts operations rejected before touching state.
	// Labels: code (MALFORMED_OPERATION, MISSING_INVERSE, UNKNOWN_ELEMENT, NOT_UNDOABLE)
	opsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "oplog",
		Name:      "rejected_total",
		Help:      "Operations rejected before any state mutation",
	}, []string{"code"})

	// opPersistDuration measures durable op writes.
	// Labels: status (ok, error)
	opPersistDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "oplog",
		Name:      "persist_duration_seconds",
		Help:      "Time to persist one operation",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"status"})

	// historySteps counts undo and redo steps.
	// Labels: action (undo, redo)
	historySteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "oplog",
		Name:      "history_steps_total",
		Help:      "Undo and redo steps taken",
	}, []string{"action"})

	// replayed counts operations seen during replay.
	// Labels: outcome (applied, skipped, snapshot, error)
	replayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "oplog",
		Name:      "replayed_total",
		Help:      "Operations processed during replay",
	}, []string{"outcome"})

	// snapshotWrites counts snapshot persistence attempts.
	// Labels: status (written, unchanged, error)
	snapshotWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "writes_total",
		Help:      "Snapshot persistence attempts",
	}, []string{"status"})

	snapshotBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "size_bytes",
		Help:      "Encoded size of written snapshots",
		Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
	})

	// realtimeMessages counts realtime messages.
	// Labels: direction (in, out, dropped), type
	realtimeMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "messages_total",
		Help:      "Realtime messages by direction and type",
	}, []string{"direction", "type"})

	realtimeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "connections",
		Help:      "Open realtime connections on the hub",
	})

	realtimeReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "reconnects_total",
		Help:      "Client reconnect attempts",
	})
)

// RecordOpAppended counts an accepted operation.
func RecordOpAppended(opType string) {
	opsAppended.WithLabelValues(opType).Inc()
}

// RecordOpRejected counts a rejected operation by error code.
func RecordOpRejected(code string) {
	opsRejected.WithLabelValues(code).Inc()
}

// RecordOpPersist observes one durable write.
func RecordOpPersist(status string, durationSec float64) {
	opPersistDuration.WithLabelValues(status).Observe(durationSec)
}

// RecordHistoryStep counts an undo or redo.
func RecordHistoryStep(action string) {
	historySteps.WithLabelValues(action).Inc()
}

// RecordReplay counts one replayed operation.
func RecordReplay(outcome string) {
	replayed.WithLabelValues(outcome).Inc()
}

// RecordSnapshotWrite counts a snapshot persistence attempt. size is only
// observed for written snapshots.
func RecordSnapshotWrite(status string, size int) {
	snapshotWrites.WithLabelValues(status).Inc()
	if status == "written" {
		snapshotBytes.Observe(float64(size))
	}
}

// RecordRealtimeMessage counts a realtime message.
func RecordRealtimeMessage(direction, msgType string) {
	realtimeMessages.WithLabelValues(direction, msgType).Inc()
}

// RealtimeConnectionOpened increments the open connection gauge.
func RealtimeConnectionOpened() {
	realtimeConnections.Inc()
}

// RealtimeConnectionClosed decrements the open connection gauge.
func RealtimeConnectionClosed() {
	realtimeConnections.Dec()
}

// RecordReconnect counts a client reconnect attempt.
func RecordReconnect() {
	realtimeReconnects.Inc()
}

// Handler serves the default registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
