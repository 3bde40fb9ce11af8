package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSimulationMetrics() {
	r.SimulationRunsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridsim_simulation_runs_total",
			Help: "Total number of simulation runs by outcome",
		},
		[]string{"network", "status"}, // complete, failed, cancelled
	)

	r.SimulationRunning = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "gridsim_simulation_running",
			Help: "Whether a simulation is running (1=yes, 0=no)",
		},
	)

	r.SimulationRunDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridsim_simulation_run_duration_seconds",
			Help:    "Wall-clock duration of simulation runs",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"network"},
	)

	r.SimulationStepsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "gridsim_simulation_steps_total",
			Help: "Total number of integrator steps recorded",
		},
	)

	r.SimulationTime = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "gridsim_simulation_time_seconds",
			Help: "Simulated time reached by the current run",
		},
	)

	r.SimulationEventsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridsim_simulation_events_total",
			Help: "Perturbation events applied to the engine",
		},
		[]string{"kind", "status"}, // applied, failed
	)

	r.SimulationResidualWarnings = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "gridsim_simulation_residual_warnings_total",
			Help: "Runs whose initial state derivative exceeded the tolerance",
		},
	)

	r.StreamDroppedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "gridsim_stream_dropped_messages_total",
			Help: "Step messages evicted from a full stream queue",
		},
	)

	r.ElectromechanicalModes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "gridsim_modal_electromechanical_modes",
			Help: "Electromechanical modes found in the last completed run",
		},
	)
}
