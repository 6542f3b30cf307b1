package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var allStates = []State{StateStopped, StateStarting, StateRunning, StateStopping}

var (
	// controllerState is 1 for the state each service is in, 0 otherwise.
	controllerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "icnswitch_controller_state",
			Help: "Current controller state by service (1 for the active state)",
		},
		[]string{"service", "state"},
	)

	workerStarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icnswitch_worker_starts_total",
			Help: "Total worker spawns by service",
		},
		[]string{"service"},
	)

	workerCrashes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icnswitch_worker_crashes_total",
			Help: "Total unrequested worker exits by service",
		},
		[]string{"service"},
	)

	startFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icnswitch_start_failures_total",
			Help: "Total failed starts by service and error kind",
		},
		[]string{"service", "kind"},
	)
)

func recordState(service string, s State) {
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		controllerState.WithLabelValues(service, string(st)).Set(v)
	}
}

func recordStartFailure(service, kind string) {
	startFailures.WithLabelValues(service, kind).Inc()
}
