// Package metrics exposes the sync layer's counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "tether"

// Input results.
const (
	InputAccepted = "accepted"
	InputStale    = "stale"
	InputLimited  = "limited"
	InputDropped  = "dropped"
)

// Snapshot kinds.
const (
	KindFull  = "full"
	KindDelta = "delta"
)

type Metrics struct {
	Ticks          prometheus.Counter
	TickDuration   prometheus.Histogram
	Snapshots      *prometheus.CounterVec
	SnapshotBytes  *prometheus.CounterVec
	SkippedDeltas  prometheus.Counter
	Inputs         *prometheus.CounterVec
	DecodeErrors   prometheus.Counter
	Sessions       prometheus.Gauge
	Detached       prometheus.Gauge
	Actors         prometheus.Gauge
	Resumes        *prometheus.CounterVec
	SlowClients    prometheus.Counter
	OutboxDropped  prometheus.Counter
	MirrorWrites   *prometheus.CounterVec
	WatchdogStalls prometheus.Counter
}

// New registers every collector with registry. Pass a fresh
// prometheus.NewRegistry() in tests.
func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ticks_total",
			Help:      "Simulation ticks run",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent inside one tick",
			Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05},
		}),
		Snapshots: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "snapshots_total",
			Help:      "Snapshots broadcast",
		}, []string{"kind"}),
		SnapshotBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "snapshot_bytes_total",
			Help:      "Encoded snapshot bytes broadcast, counted once per tick",
		}, []string{"kind"}),
		SkippedDeltas: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "snapshot_deltas_skipped_total",
			Help:      "Delta ticks with nothing to report",
		}),
		Inputs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "inputs_total",
			Help:      "Client inputs by outcome",
		}, []string{"result"}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound frames that failed to decode",
		}),
		Sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sessions",
			Help:      "Sessions with a live transport",
		}),
		Detached: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sessions_detached",
			Help:      "Sessions waiting to be resumed",
		}),
		Actors: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "actors",
			Help:      "Live actors in the simulation",
		}),
		Resumes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "resumes_total",
			Help:      "Session resume requests by outcome",
		}, []string{"result"}),
		SlowClients: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "slow_clients_total",
			Help:      "Connections closed because their send queue was full",
		}),
		OutboxDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "outbox_dropped_total",
			Help:      "Outbound packets dropped because the outbox was full",
		}),
		MirrorWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "mirror_writes_total",
			Help:      "Actor state mirror writes by outcome",
		}, []string{"result"}),
		WatchdogStalls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "watchdog_stalls_total",
			Help:      "Ticks the loop did not pick up in time",
		}),
	}
}

// Nop returns collectors bound to a private registry nobody scrapes.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) ObserveTick(start time.Time) {
	m.Ticks.Inc()
	m.TickDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveSnapshot(full bool, bytes int) {
	kind := KindDelta
	if full {
		kind = KindFull
	}
	m.Snapshots.WithLabelValues(kind).Inc()
	m.SnapshotBytes.WithLabelValues(kind).Add(float64(bytes))
}

func (m *Metrics) ObserveInput(result string) {
	m.Inputs.WithLabelValues(result).Inc()
}
