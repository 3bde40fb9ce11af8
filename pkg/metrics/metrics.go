package metrics

import (
	"time"
)

// Run outcomes
const (
	StatusComplete  = "complete"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordResponseSize records the size of an HTTP response body
func (r *Registry) RecordResponseSize(method, path string, size float64) {
	r.HTTPResponseSizeBytes.WithLabelValues(method, path).Observe(size)
}

// IncHTTPRequestsInFlight increments the in-flight request gauge
func (r *Registry) IncHTTPRequestsInFlight() {
	r.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements the in-flight request gauge
func (r *Registry) DecHTTPRequestsInFlight() {
	r.HTTPRequestsInFlight.Dec()
}

// RecordStorageOperation records an archive, history or publisher operation
func (r *Registry) RecordStorageOperation(backend, operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.StorageOperationsTotal.WithLabelValues(backend, operation, status).Inc()
	r.StorageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RunStarted marks a simulation as running
func (r *Registry) RunStarted() {
	r.SimulationRunning.Set(1)
	r.SimulationTime.Set(0)
}

// RunFinished records the outcome of a simulation run
func (r *Registry) RunFinished(network, status string, duration time.Duration) {
	r.SimulationRunning.Set(0)
	r.SimulationRunsTotal.WithLabelValues(network, status).Inc()
	r.SimulationRunDuration.WithLabelValues(network).Observe(duration.Seconds())
}

// RecordStep records one integrator step at simulated time t
func (r *Registry) RecordStep(t float64) {
	r.SimulationStepsTotal.Inc()
	r.SimulationTime.Set(t)
}

// ObserveEvent counts a perturbation event
func (r *Registry) ObserveEvent(kind string, ok bool) {
	status := "applied"
	if !ok {
		status = "failed"
	}
	r.SimulationEventsTotal.WithLabelValues(kind, status).Inc()
}

// RecordPublish counts a message forwarded to the external publisher
func (r *Registry) RecordPublish(msgType string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.PublishedMessagesTotal.WithLabelValues(msgType, status).Inc()
}
