package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	workerLaunches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chamelio",
			Subsystem: "worker",
			Name:      "launches_total",
			Help:      "Number of worker processes spawned.",
		},
	)
	workerStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chamelio",
			Subsystem: "worker",
			Name:      "stops_total",
			Help:      "Number of worker stop operations completed.",
		},
	)
	workerKills = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chamelio",
			Subsystem: "worker",
			Name:      "kills_total",
			Help:      "Number of stop escalations to SIGKILL.",
		},
	)
	staleReconciled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chamelio",
			Subsystem: "worker",
			Name:      "stale_reconciled_total",
			Help:      "Running rows corrected to stopped because the PID was dead.",
		},
	)
	heartbeatsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chamelio",
			Subsystem: "ingest",
			Name:      "heartbeats_total",
			Help:      "Well-formed heartbeats applied to the registry.",
		},
	)
	malformedPayloads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chamelio",
			Subsystem: "ingest",
			Name:      "malformed_total",
			Help:      "Ingest payloads discarded as malformed.",
		},
	)
	broadcasts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chamelio",
			Subsystem: "hub",
			Name:      "broadcasts_total",
			Help:      "State updates fanned out to observers.",
		},
	)
	observers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chamelio",
			Subsystem: "hub",
			Name:      "observers",
			Help:      "Currently connected observer websockets.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		workerLaunches, workerStops, workerKills, staleReconciled,
		heartbeatsIngested, malformedPayloads, broadcasts, observers,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// RegisterDefault registers all metrics with the default Prometheus registry.
func RegisterDefault() error { return Register(prometheus.DefaultRegisterer) }

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by internal packages; no-ops until Register ran.

func IncLaunch() {
	if regOK.Load() {
		workerLaunches.Inc()
	}
}

func IncStop() {
	if regOK.Load() {
		workerStops.Inc()
	}
}

func IncKill() {
	if regOK.Load() {
		workerKills.Inc()
	}
}

func IncStaleReconciled() {
	if regOK.Load() {
		staleReconciled.Inc()
	}
}

func IncHeartbeat() {
	if regOK.Load() {
		heartbeatsIngested.Inc()
	}
}

func IncMalformed() {
	if regOK.Load() {
		malformedPayloads.Inc()
	}
}

func IncBroadcast() {
	if regOK.Load() {
		broadcasts.Inc()
	}
}

func AddObservers(delta int) {
	if regOK.Load() {
		observers.Add(float64(delta))
	}
}
