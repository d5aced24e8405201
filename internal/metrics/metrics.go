package metrics

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOtherRegisterer is returned by Register when the collectors are already
// registered with a different registerer. The collectors are process-wide,
// so every caller in a process must share one registerer.
var ErrOtherRegisterer = errors.New("metrics already registered with another registerer")

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK      atomic.Bool
	regMu      sync.Mutex
	registered prometheus.Registerer
	gatherer   atomic.Pointer[prometheus.Gatherer]

	stageTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchr",
			Subsystem: "supervisor",
			Name:      "stage_transitions_total",
			Help:      "Number of startup stage transitions.",
		}, []string{"from", "to"},
	)
	currentStage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "launchr",
			Subsystem: "supervisor",
			Name:      "current_stage",
			Help:      "Current startup stage (1 = active stage, 0 = inactive).",
		}, []string{"stage"},
	)
	ready = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "launchr",
			Subsystem: "supervisor",
			Name:      "ready",
			Help:      "1 once the backend has been observed healthy.",
		},
	)
	startupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "launchr",
			Subsystem: "supervisor",
			Name:      "startup_duration_seconds",
			Help:      "Time from supervisor start to a terminal stage.",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 900, 1800},
		},
	)
	healthProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchr",
			Subsystem: "health",
			Name:      "probes_total",
			Help:      "Number of backend health probes by result.",
		}, []string{"result"},
	)
	modelPulls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchr",
			Subsystem: "model",
			Name:      "pulls_total",
			Help:      "Number of model downloads by result.",
		}, []string{"model", "result"},
	)
	processSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchr",
			Subsystem: "process",
			Name:      "spawns_total",
			Help:      "Number of child process spawn attempts by result.",
		}, []string{"name", "result"},
	)
)

// Register registers all metrics with the provided registerer.
// Calling it again with the same registerer is a no-op; any other registerer
// gets ErrOtherRegisterer.
func Register(r prometheus.Registerer) error {
	regMu.Lock()
	defer regMu.Unlock()
	if regOK.Load() {
		if r != registered {
			return ErrOtherRegisterer
		}
		return nil
	}
	cs := []prometheus.Collector{stageTransitions, currentStage, ready, startupDuration, healthProbes, modelPulls, processSpawns}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	if g, ok := r.(prometheus.Gatherer); ok {
		gatherer.Store(&g)
	}
	registered = r
	regOK.Store(true)
	return nil
}

// WriteTextfile writes the registered metrics to path in the text exposition
// format, for collection by a node exporter textfile collector.
func WriteTextfile(path string) error {
	if !regOK.Load() {
		return errors.New("metrics not registered")
	}
	g := prometheus.DefaultGatherer
	if p := gatherer.Load(); p != nil {
		g = *p
	}
	return prometheus.WriteToTextfile(path, g)
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func RecordStageTransition(from, to string) {
	if regOK.Load() {
		stageTransitions.WithLabelValues(from, to).Inc()
		currentStage.WithLabelValues(from).Set(0)
		currentStage.WithLabelValues(to).Set(1)
	}
}

func SetReady(v bool) {
	if regOK.Load() {
		if v {
			ready.Set(1)
		} else {
			ready.Set(0)
		}
	}
}

func ObserveStartupDuration(seconds float64) {
	if regOK.Load() {
		startupDuration.Observe(seconds)
	}
}

func IncHealthProbe(healthy bool) {
	if regOK.Load() {
		healthProbes.WithLabelValues(result(healthy)).Inc()
	}
}

func IncModelPull(model string, ok bool) {
	if regOK.Load() {
		modelPulls.WithLabelValues(model, result(ok)).Inc()
	}
}

func IncSpawn(name string, ok bool) {
	if regOK.Load() {
		processSpawns.WithLabelValues(name, result(ok)).Inc()
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
